package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/Versifine/hoverwheel/internal/client"
	"github.com/Versifine/hoverwheel/internal/config"
	"github.com/Versifine/hoverwheel/internal/record"
)

const (
	wheelCloseTimeout = 5 * time.Second
	replayKeepAlive   = 2 * time.Second
	replayClientName  = "hoverwheel-replay"
)

// localAddr turns a wildcard listen address into one a local client can dial.
func localAddr(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func listSessions(ctx context.Context, cfg *config.Config, out io.Writer) error {
	rec, err := record.Open(cfg.Record.Path, record.Options{})
	if err != nil {
		return err
	}
	defer rec.Close()

	sessions, err := rec.Sessions(ctx)
	if err != nil {
		return err
	}
	renderSessions(out, sessions)
	return nil
}

func renderSessions(out io.Writer, sessions []record.SessionInfo) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Client", "Remote", "Started", "Duration", "Frames"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, s := range sessions {
		duration := "active"
		durationColor := tablewriter.FgGreenColor
		if !s.EndedAt.IsZero() {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
			durationColor = tablewriter.Normal
		}
		table.Rich(
			[]string{s.ID, s.ClientName, s.RemoteAddr, s.StartedAt.Local().Format(time.DateTime), duration, strconv.Itoa(s.Frames)},
			[]tablewriter.Colors{{}, {}, {}, {}, {tablewriter.Normal, durationColor}, {}})
	}
	table.Render()
	fmt.Fprintf(out, "%d session(s)\n", len(sessions))
}

func replay(ctx context.Context, cfg *config.Config, sessionID, addr string) error {
	rec, err := record.Open(cfg.Record.Path, record.Options{})
	if err != nil {
		return err
	}
	frames, err := rec.Frames(ctx, sessionID)
	_ = rec.Close()
	if err != nil {
		return err
	}

	c, err := client.Dial(ctx, addr, replayClientName)
	if err != nil {
		return fmt.Errorf("dial wheel server: %w", err)
	}
	defer c.Close()

	kaCtx, stopKA := context.WithCancel(ctx)
	defer stopKA()
	go func() {
		if err := c.RunKeepAlive(kaCtx, replayKeepAlive); err != nil && kaCtx.Err() == nil {
			slog.Warn("Replay keepalive stopped", "error", err)
		}
	}()

	slog.Info("Replaying session", "session", sessionID, "frames", len(frames), "addr", addr)
	start := time.Now()
	if err := record.Replay(ctx, frames, c); err != nil {
		return err
	}
	slog.Info("Replay finished", "session", sessionID, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
