package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Versifine/hoverwheel/internal/api"
	"github.com/Versifine/hoverwheel/internal/config"
	"github.com/Versifine/hoverwheel/internal/debug"
	"github.com/Versifine/hoverwheel/internal/device"
	"github.com/Versifine/hoverwheel/internal/event"
	"github.com/Versifine/hoverwheel/internal/hook"
	"github.com/Versifine/hoverwheel/internal/logger"
	"github.com/Versifine/hoverwheel/internal/record"
	"github.com/Versifine/hoverwheel/internal/server"
	"github.com/Versifine/hoverwheel/internal/wheel"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: hoverwheel [-config path] [serve | sessions | replay <session-id> [addr]]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	out, closeLog, err := logger.OpenOutput(cfg.Logging.File)
	if err != nil {
		slog.Error("Failed to open log output", "error", err)
		os.Exit(1)
	}
	defer closeLog()
	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "sessions":
		err = listSessions(ctx, cfg, os.Stdout)
	case "replay":
		if len(args) < 1 {
			flag.Usage()
			os.Exit(2)
		}
		addr := localAddr(cfg.Listen.Host, cfg.Listen.Port)
		if len(args) > 1 {
			addr = args[1]
		}
		err = replay(ctx, cfg, args[0], addr)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Command failed", "command", cmd, "error", err)
		stop()
		closeLog()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	driver, err := device.New(cfg.Device.Driver, device.Options{UHIDPath: cfg.Device.UHIDPath})
	if err != nil {
		return err
	}

	bus := event.NewBus()
	event.SubscribeLogging(bus)

	w := wheel.New(driver, wheel.Options{
		Spec: device.Spec{
			Name:    cfg.Device.Name,
			Bus:     device.BusUSB,
			Vendor:  cfg.Device.VendorID,
			Product: cfg.Device.ProductID,
			Version: cfg.Device.Version,
		},
		Deadzone: cfg.Axes.Deadzone,
		Invert: wheel.Invert{
			LeftX:  cfg.Axes.Invert.LeftX,
			LeftY:  cfg.Axes.Invert.LeftY,
			RightX: cfg.Axes.Invert.RightX,
			RightY: cfg.Axes.Invert.RightY,
		},
		MaxRateHz: cfg.Axes.MaxRateHz,
		Bus:       bus,
	})
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), wheelCloseTimeout)
		defer closeCancel()
		if err := w.Close(closeCtx); err != nil {
			slog.Warn("Closing virtual device failed", "error", err)
		}
	}()

	var rec *record.Recorder
	if cfg.Record.Enabled {
		rec, err = record.Open(cfg.Record.Path, record.Options{})
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				slog.Warn("Closing recorder failed", "error", err)
			}
		}()
	}

	srvOpts := server.Options{
		ClientTimeout: cfg.Session.ClientTimeout,
		MaxClients:    cfg.Session.MaxClients,
		CenterOnIdle:  cfg.Axes.CenterOnIdle,
		Bus:           bus,
	}
	if rec != nil {
		srvOpts.Recorder = rec
	}
	if cfg.Debug.TracePackets {
		srvOpts.Hook = hook.Tracer{}
	}
	srv := server.NewServer(net.JoinHostPort(cfg.Listen.Host, strconv.Itoa(cfg.Listen.Port)), w, srvOpts)

	if cfg.Device.AutoConnect && !w.ConnectDevice() {
		slog.Warn("Auto connect failed, waiting for a client to connect the device", "driver", driver.Name())
	}

	errCh := make(chan error, 3)
	running := 1
	go func() { errCh <- srv.Start(ctx) }()

	if cfg.HTTP.Enabled {
		apiOpts := api.Options{
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Clients:           srv,
		}
		if rec != nil {
			apiOpts.Sessions = rec
		}
		httpSrv := api.NewServer(api.ServerConfig{
			Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}, api.NewRouter(w, apiOpts))
		running++
		go func() { errCh <- httpSrv.Start(ctx) }()
	}

	consoleDone := make(chan struct{})
	if cfg.Debug.Console {
		go func() {
			defer close(consoleDone)
			if err := debug.NewConsole(w).Start(ctx); err != nil {
				slog.Warn("Debug console stopped", "error", err)
			}
			// Ctrl-C in raw mode never reaches signal.NotifyContext.
			cancel()
		}()
	} else {
		close(consoleDone)
	}

	var firstErr error
	for ; running > 0; running-- {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	cancel()
	<-consoleDone
	return firstErr
}
