package device

import (
	"context"
	"log/slog"
	"sync"
)

// Loopback keeps reports in memory instead of talking to the host. It backs
// dry runs and tests.
type Loopback struct {
	mu      sync.Mutex
	opened  int
	closed  int
	current *loopbackHandle
	reports [][]byte

	// FailOpen, when non-nil, is returned by the next Open calls.
	FailOpen error
	// FailWrite, when non-nil, is returned by WriteReport.
	FailWrite error
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Open(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailOpen != nil {
		return nil, l.FailOpen
	}
	l.opened++
	h := &loopbackHandle{owner: l, spec: spec}
	l.current = h
	slog.Debug("Loopback device created", "name", spec.Name, "descriptor_len", len(spec.Descriptor))
	return h, nil
}

// Reports returns copies of every report written so far.
func (l *Loopback) Reports() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.reports))
	for i, r := range l.reports {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Last returns the most recent report, or nil.
func (l *Loopback) Last() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reports) == 0 {
		return nil
	}
	return append([]byte(nil), l.reports[len(l.reports)-1]...)
}

// Live reports whether a handle is open.
func (l *Loopback) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Counts returns how many handles were opened and closed.
func (l *Loopback) Counts() (opened, closed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened, l.closed
}

// Spec returns the spec of the live handle.
func (l *Loopback) Spec() (Spec, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Spec{}, false
	}
	return l.current.spec, true
}

func (l *Loopback) SetFailWrite(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.FailWrite = err
}

type loopbackHandle struct {
	owner  *Loopback
	spec   Spec
	closed bool
}

func (h *loopbackHandle) WriteReport(report []byte) error {
	l := h.owner
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if l.FailWrite != nil {
		return l.FailWrite
	}
	l.reports = append(l.reports, append([]byte(nil), report...))
	return nil
}

func (h *loopbackHandle) Close() error {
	l := h.owner
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	l.closed++
	if l.current == h {
		l.current = nil
	}
	return nil
}
