// Package wheel implements the virtual steering wheel: one virtual HID device
// that can be connected, disconnected and fed with four axis values.
package wheel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Versifine/hoverwheel/internal/device"
	"github.com/Versifine/hoverwheel/internal/event"
	"github.com/Versifine/hoverwheel/internal/hid"
)

const (
	defaultOpTimeout = 5 * time.Second
	defaultMaxRateHz = 250
)

type Options struct {
	Spec     device.Spec
	Deadzone float32
	Invert   Invert
	// MaxRateHz caps reports per second; samples beyond it are coalesced.
	// Negative disables the cap, zero selects the default.
	MaxRateHz float64
	// OpTimeout bounds ConnectDevice and DisconnectDevice.
	OpTimeout time.Duration
	Bus       *event.Bus
}

type Stats struct {
	State       State     `json:"state"`
	Driver      string    `json:"driver"`
	Sent        uint64    `json:"sent"`
	Dropped     uint64    `json:"dropped"`
	Coalesced   uint64    `json:"coalesced"`
	Failed      uint64    `json:"failed"`
	Last        Axes      `json:"last"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
}

type sample struct {
	seq    uint64
	report hid.Report
}

type Wheel struct {
	driver device.Driver
	opts   Options

	mu          sync.Mutex
	state       State
	handle      device.Handle
	limiter     *rate.Limiter
	stopFlush   context.CancelFunc
	flushDone   chan struct{}
	wake        chan struct{}
	pending     sample
	hasPending  bool
	nextSeq     uint64
	last        Axes
	connectedAt time.Time

	// writeMu serializes driver writes and guards the fields below.
	writeMu    sync.Mutex
	lastSeq    uint64
	lastReport hid.Report
	hasLast    bool
	// live is the handle writes may target; nil while no device is open.
	live device.Handle

	sent      atomic.Uint64
	dropped   atomic.Uint64
	coalesced atomic.Uint64
	failed    atomic.Uint64
}

func New(driver device.Driver, opts Options) *Wheel {
	if opts.Deadzone < 0 || opts.Deadzone >= 1 {
		slog.Warn("Ignoring out of range deadzone", "deadzone", opts.Deadzone)
		opts.Deadzone = 0
	}
	if opts.MaxRateHz == 0 {
		opts.MaxRateHz = defaultMaxRateHz
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.Spec.Descriptor == nil {
		opts.Spec.Descriptor = hid.ReportDescriptor
	}
	return &Wheel{
		driver: driver,
		opts:   opts,
	}
}

// ConnectDevice creates the virtual device and reports whether it succeeded.
func (w *Wheel) ConnectDevice() bool {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.OpTimeout)
	defer cancel()
	if err := w.Connect(ctx); err != nil {
		slog.Warn("Connect device failed", "driver", w.driver.Name(), "error", err)
		return false
	}
	return true
}

// DisconnectDevice removes the virtual device and reports whether a live
// device was torn down.
func (w *Wheel) DisconnectDevice() bool {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.OpTimeout)
	defer cancel()
	if err := w.Disconnect(ctx); err != nil {
		slog.Warn("Disconnect device failed", "driver", w.driver.Name(), "error", err)
		return false
	}
	return true
}

// SendAxes delivers one sample. Samples that cannot be delivered are dropped.
func (w *Wheel) SendAxes(leftX, leftY, rightX, rightY float32) {
	err := w.Send(context.Background(), Axes{LeftX: leftX, LeftY: leftY, RightX: rightX, RightY: rightY})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		slog.Debug("Send axes failed", "error", err)
	}
}

func (w *Wheel) Connect(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case Connected:
		w.mu.Unlock()
		return ErrAlreadyConnected
	case Connecting, Disconnecting:
		w.mu.Unlock()
		return ErrBusy
	}
	w.state = Connecting
	w.mu.Unlock()

	h, err := w.driver.Open(ctx, w.opts.Spec)
	if err != nil {
		w.mu.Lock()
		w.state = Disconnected
		w.mu.Unlock()
		err = fmt.Errorf("open %s device: %w", w.driver.Name(), err)
		w.publish(event.EventDeviceError, err)
		return err
	}

	w.writeMu.Lock()
	w.hasLast = false
	w.live = h
	if err := h.WriteReport(hid.Centered.Bytes()); err != nil {
		slog.Warn("Initial centered report failed", "error", err)
	} else {
		w.lastReport = hid.Centered
		w.hasLast = true
	}
	w.writeMu.Unlock()

	flushCtx, stop := context.WithCancel(context.Background())
	limit := rate.Limit(w.opts.MaxRateHz)
	if w.opts.MaxRateHz < 0 {
		limit = rate.Inf
	}

	w.mu.Lock()
	w.handle = h
	w.state = Connected
	w.connectedAt = time.Now()
	w.limiter = rate.NewLimiter(limit, 1)
	w.stopFlush = stop
	w.flushDone = make(chan struct{})
	w.wake = make(chan struct{}, 1)
	w.hasPending = false
	go w.flushLoop(flushCtx, h, w.limiter, w.wake, w.flushDone)
	w.mu.Unlock()

	slog.Info("Virtual device connected", "driver", w.driver.Name(), "name", w.opts.Spec.Name)
	w.publish(event.EventDeviceConnected, nil)
	return nil
}

func (w *Wheel) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case Disconnected:
		w.mu.Unlock()
		return ErrNotConnected
	case Connecting, Disconnecting:
		w.mu.Unlock()
		return ErrBusy
	}
	w.state = Disconnecting
	h := w.handle
	stop, done := w.stopFlush, w.flushDone
	w.hasPending = false
	w.mu.Unlock()

	stop()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Flusher did not stop before deadline", "error", ctx.Err())
	}

	w.writeMu.Lock()
	if err := h.WriteReport(hid.Centered.Bytes()); err != nil {
		slog.Warn("Centering report before disconnect failed", "error", err)
	}
	w.hasLast = false
	w.live = nil
	w.writeMu.Unlock()

	closeErr := h.Close()

	w.mu.Lock()
	w.handle = nil
	w.limiter = nil
	w.state = Disconnected
	w.connectedAt = time.Time{}
	w.last = Axes{}
	w.mu.Unlock()

	slog.Info("Virtual device disconnected", "driver", w.driver.Name())
	w.publish(event.EventDeviceDisconnected, closeErr)
	if closeErr != nil {
		return fmt.Errorf("close %s device: %w", w.driver.Name(), closeErr)
	}
	return nil
}

// Send normalizes axes and delivers them, writing synchronously when the rate
// limiter allows and otherwise leaving the sample for the flusher. A pending
// sample is always replaced by a newer one.
func (w *Wheel) Send(ctx context.Context, axes Axes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a := Normalize(axes, w.opts.Deadzone, w.opts.Invert)

	w.mu.Lock()
	if w.state != Connected {
		w.mu.Unlock()
		w.dropped.Add(1)
		return ErrNotConnected
	}
	w.nextSeq++
	s := sample{seq: w.nextSeq, report: a.Report()}
	w.last = a
	h := w.handle

	if w.limiter.Allow() {
		if w.hasPending {
			w.hasPending = false
			w.coalesced.Add(1)
		}
		w.mu.Unlock()
		return w.write(h, s)
	}

	if w.hasPending {
		w.coalesced.Add(1)
	}
	w.pending = s
	w.hasPending = true
	wake := w.wake
	w.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *Wheel) write(h device.Handle, s sample) error {
	w.writeMu.Lock()
	if w.live == nil || h != w.live {
		w.writeMu.Unlock()
		w.dropped.Add(1)
		return ErrNotConnected
	}
	if s.seq <= w.lastSeq {
		w.writeMu.Unlock()
		w.coalesced.Add(1)
		return nil
	}
	if w.hasLast && s.report == w.lastReport {
		w.lastSeq = s.seq
		w.writeMu.Unlock()
		w.coalesced.Add(1)
		return nil
	}
	err := h.WriteReport(s.report.Bytes())
	if err == nil {
		w.lastSeq = s.seq
		w.lastReport = s.report
		w.hasLast = true
	}
	w.writeMu.Unlock()

	if err != nil {
		w.failed.Add(1)
		err = fmt.Errorf("write report: %w", err)
		w.publish(event.EventDeviceError, err)
		return err
	}
	w.sent.Add(1)
	return nil
}

func (w *Wheel) flushLoop(ctx context.Context, h device.Handle, limiter *rate.Limiter, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		w.mu.Lock()
		if !w.hasPending {
			w.mu.Unlock()
			continue
		}
		s := w.pending
		w.hasPending = false
		w.mu.Unlock()

		if err := w.write(h, s); err != nil {
			slog.Debug("Flushing pending report failed", "error", err)
		}
	}
}

// Close disconnects the device if one is live.
func (w *Wheel) Close(ctx context.Context) error {
	err := w.Disconnect(ctx)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (w *Wheel) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Wheel) Stats() Stats {
	w.mu.Lock()
	st := Stats{
		State:       w.state,
		Driver:      w.driver.Name(),
		Last:        w.last,
		ConnectedAt: w.connectedAt,
	}
	w.mu.Unlock()
	st.Sent = w.sent.Load()
	st.Dropped = w.dropped.Load()
	st.Coalesced = w.coalesced.Load()
	st.Failed = w.failed.Load()
	return st
}

func (w *Wheel) publish(name string, err error) {
	if w.opts.Bus == nil {
		return
	}
	w.opts.Bus.Publish(name, &event.DeviceEvent{
		Driver: w.driver.Name(),
		Name:   w.opts.Spec.Name,
		Err:    err,
		At:     time.Now(),
	})
}
