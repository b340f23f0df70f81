package debug

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/Versifine/hoverwheel/internal/wheel"
)

const (
	defaultTickInterval = 20 * time.Millisecond
	defaultPulse        = 180 * time.Millisecond
	strengthStep        = float32(0.25)
	keyCtrlC            = 3
)

// Controller is the wheel as seen by the console.
type Controller interface {
	Send(ctx context.Context, axes wheel.Axes) error
	ConnectDevice() bool
	DisconnectDevice() bool
	Stats() wheel.Stats
}

type pulse struct {
	value float32
	until time.Time
}

type Console struct {
	ctrl         Controller
	out          io.Writer
	tickInterval time.Duration
	pulseLength  time.Duration

	mu          sync.Mutex
	leftX       pulse
	leftY       pulse
	rightX      pulse
	rightY      pulse
	held        *wheel.Axes
	strength    float32
	lastSent    wheel.Axes
	commandMode bool
	commandBuf  []rune
	statusWidth int
}

func NewConsole(ctrl Controller) *Console {
	return &Console{
		ctrl:         ctrl,
		out:          os.Stdout,
		tickInterval: defaultTickInterval,
		pulseLength:  defaultPulse,
		strength:     1,
	}
}

// Start puts the terminal in raw mode and drives the wheel from the keyboard
// until ctx ends or Ctrl-C is pressed.
func (c *Console) Start(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("console is nil")
	}
	if c.ctrl == nil {
		return fmt.Errorf("console controller is nil")
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set terminal raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Fprint(c.out, "\r\n")
	}()

	fmt.Fprint(c.out, "[debug] console started (W/A/S/D left stick, I/J/K/L or arrows right stick, Space center, c/x device, : command, Ctrl-C quit)\r\n")
	c.renderStatusLine()

	tickCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.tickLoop(tickCtx)

	// The input goroutine may stay blocked on stdin after ctx ends; the
	// terminal is restored either way.
	inputDone := make(chan error, 1)
	go func() { inputDone <- c.readInput(bufio.NewReader(os.Stdin)) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-inputDone:
		return err
	}
}

// readInput handles keys until quit or a read error.
func (c *Console) readInput(reader *bufio.Reader) error {
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return fmt.Errorf("read console input: %w", err)
		}
		if quit := c.handleKey(reader, b); quit {
			return nil
		}
	}
}

func (c *Console) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, time.Now())
		}
	}
}

func (c *Console) tick(ctx context.Context, now time.Time) {
	axes := c.axesAt(now)
	if err := c.ctrl.Send(ctx, axes); err != nil && !errors.Is(err, wheel.ErrNotConnected) {
		slog.Debug("debug console send failed", "error", err)
	}
	c.mu.Lock()
	c.lastSent = axes
	c.mu.Unlock()
	c.renderStatusLine()
}

// handleKey applies one input byte and reports whether the console should quit.
func (c *Console) handleKey(reader *bufio.Reader, b byte) bool {
	if c.isCommandMode() {
		c.handleCommandByte(b)
		return false
	}

	switch b {
	case keyCtrlC, 'q', 'Q':
		return true
	case ':':
		c.enterCommandMode()
		return false
	case 'w', 'W':
		c.pulseAxis(&c.leftY, -1)
	case 's', 'S':
		c.pulseAxis(&c.leftY, 1)
	case 'a', 'A':
		c.pulseAxis(&c.leftX, -1)
	case 'd', 'D':
		c.pulseAxis(&c.leftX, 1)
	case 'i', 'I':
		c.pulseAxis(&c.rightY, -1)
	case 'k', 'K':
		c.pulseAxis(&c.rightY, 1)
	case 'j', 'J':
		c.pulseAxis(&c.rightX, -1)
	case 'l', 'L':
		c.pulseAxis(&c.rightX, 1)
	case ' ':
		c.center()
	case '+', '=':
		c.adjustStrength(strengthStep)
	case '-', '_':
		c.adjustStrength(-strengthStep)
	case 'c', 'C':
		ok := c.ctrl.ConnectDevice()
		fmt.Fprintf(c.out, "\r\n[debug] connect device: %s\r\n", resultLabel(ok))
	case 'x', 'X':
		ok := c.ctrl.DisconnectDevice()
		fmt.Fprintf(c.out, "\r\n[debug] disconnect device: %s\r\n", resultLabel(ok))
	case 27: // ESC + arrow sequence
		next, err := reader.ReadByte()
		if err != nil || next != '[' {
			return false
		}
		arrow, err := reader.ReadByte()
		if err != nil {
			return false
		}
		switch arrow {
		case 'A': // up
			c.pulseAxis(&c.rightY, -1)
		case 'B': // down
			c.pulseAxis(&c.rightY, 1)
		case 'C': // right
			c.pulseAxis(&c.rightX, 1)
		case 'D': // left
			c.pulseAxis(&c.rightX, -1)
		}
	}
	c.renderStatusLine()
	return false
}

func (c *Console) enterCommandMode() {
	c.mu.Lock()
	c.commandMode = true
	c.commandBuf = c.commandBuf[:0]
	c.mu.Unlock()
	fmt.Fprint(c.out, "\r\n:")
}

func (c *Console) handleCommandByte(b byte) {
	switch b {
	case 13, 10: // Enter
		c.mu.Lock()
		cmd := strings.TrimSpace(string(c.commandBuf))
		c.commandMode = false
		c.commandBuf = c.commandBuf[:0]
		c.mu.Unlock()

		fmt.Fprint(c.out, "\r\n")
		if cmd != "" {
			c.executeCommand(cmd)
		}
		c.renderStatusLine()
		return
	case 27: // ESC cancel command mode
		c.mu.Lock()
		c.commandMode = false
		c.commandBuf = c.commandBuf[:0]
		c.mu.Unlock()
		fmt.Fprint(c.out, "\r\n[debug] command cancelled\r\n")
		c.renderStatusLine()
		return
	case 8, 127: // Backspace
		c.mu.Lock()
		if len(c.commandBuf) > 0 {
			c.commandBuf = c.commandBuf[:len(c.commandBuf)-1]
		}
		buf := string(c.commandBuf)
		c.mu.Unlock()
		fmt.Fprintf(c.out, "\r:%s ", buf)
		fmt.Fprintf(c.out, "\r:%s", buf)
		return
	default:
		if b < 32 || b > 126 {
			return
		}
		c.mu.Lock()
		c.commandBuf = append(c.commandBuf, rune(b))
		buf := string(c.commandBuf)
		c.mu.Unlock()
		fmt.Fprintf(c.out, "\r:%s", buf)
	}
}

func (c *Console) executeCommand(cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "help":
		c.printHelp()
	case "stats":
		st := c.ctrl.Stats()
		fmt.Fprintf(c.out, "[debug] state=%s driver=%s sent=%d dropped=%d coalesced=%d failed=%d\r\n",
			st.State, st.Driver, st.Sent, st.Dropped, st.Coalesced, st.Failed)
	case "hold":
		if len(parts) != 5 {
			fmt.Fprint(c.out, "[debug] usage: :hold <lx> <ly> <rx> <ry>\r\n")
			return
		}
		var vals [4]float32
		for i, p := range parts[1:] {
			v, err := strconv.ParseFloat(p, 32)
			if err != nil {
				fmt.Fprint(c.out, "[debug] invalid hold args\r\n")
				return
			}
			vals[i] = float32(v)
		}
		axes := wheel.Axes{LeftX: vals[0], LeftY: vals[1], RightX: vals[2], RightY: vals[3]}
		c.mu.Lock()
		c.held = &axes
		c.mu.Unlock()
		fmt.Fprintf(c.out, "[debug] holding L(%.2f, %.2f) R(%.2f, %.2f)\r\n", vals[0], vals[1], vals[2], vals[3])
	case "release":
		c.mu.Lock()
		c.held = nil
		c.mu.Unlock()
		fmt.Fprint(c.out, "[debug] hold released\r\n")
	case "connect":
		fmt.Fprintf(c.out, "[debug] connect device: %s\r\n", resultLabel(c.ctrl.ConnectDevice()))
	case "disconnect":
		fmt.Fprintf(c.out, "[debug] disconnect device: %s\r\n", resultLabel(c.ctrl.DisconnectDevice()))
	default:
		fmt.Fprintf(c.out, "[debug] unknown command: %s\r\n", parts[0])
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, "[debug] keys:\r\n")
	fmt.Fprint(c.out, "  W/A/S/D: pulse left stick (~180ms)\r\n")
	fmt.Fprint(c.out, "  I/J/K/L, arrows: pulse right stick\r\n")
	fmt.Fprint(c.out, "  Space: center both sticks\r\n")
	fmt.Fprint(c.out, "  +/-: stick strength\r\n")
	fmt.Fprint(c.out, "  C/X: connect/disconnect device\r\n")
	fmt.Fprint(c.out, "  : enter command mode, Ctrl-C or Q quit\r\n")
	fmt.Fprint(c.out, "[debug] commands:\r\n")
	fmt.Fprint(c.out, "  :hold <lx> <ly> <rx> <ry>\r\n")
	fmt.Fprint(c.out, "  :release\r\n")
	fmt.Fprint(c.out, "  :connect, :disconnect\r\n")
	fmt.Fprint(c.out, "  :stats\r\n")
	fmt.Fprint(c.out, "  :help\r\n")
}

func (c *Console) renderStatusLine() {
	c.mu.Lock()
	if c.commandMode {
		c.mu.Unlock()
		return
	}
	a := c.lastSent
	strength := c.strength
	held := c.held != nil
	width := c.statusWidth
	c.mu.Unlock()

	st := c.ctrl.Stats()
	line := fmt.Sprintf(
		"[%s | L:%+.2f,%+.2f R:%+.2f,%+.2f | str:%.2f hold:%s | sent:%d drop:%d]",
		st.State,
		a.LeftX, a.LeftY, a.RightX, a.RightY,
		strength,
		boolLabel(held),
		st.Sent,
		st.Dropped,
	)

	padding := ""
	if width > len(line) {
		padding = strings.Repeat(" ", width-len(line))
	}
	fmt.Fprintf(c.out, "\r%s%s", line, padding)

	c.mu.Lock()
	if len(line) > c.statusWidth {
		c.statusWidth = len(line)
	}
	c.mu.Unlock()
}

// pulseAxis deflects one axis in direction dir for one pulse length.
func (c *Console) pulseAxis(p *pulse, dir float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.value = dir * c.strength
	p.until = time.Now().Add(c.pulseLength)
}

func (c *Console) center() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leftX, c.leftY, c.rightX, c.rightY = pulse{}, pulse{}, pulse{}, pulse{}
	c.held = nil
}

func (c *Console) adjustStrength(delta float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.strength + delta
	if s < strengthStep {
		s = strengthStep
	}
	if s > 1 {
		s = 1
	}
	c.strength = s
}

// axesAt returns the sample for now. A held sample wins over pulses.
func (c *Console) axesAt(now time.Time) wheel.Axes {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held != nil {
		return *c.held
	}
	return wheel.Axes{
		LeftX:  c.leftX.valueAt(now),
		LeftY:  c.leftY.valueAt(now),
		RightX: c.rightX.valueAt(now),
		RightY: c.rightY.valueAt(now),
	}
}

func (p *pulse) valueAt(now time.Time) float32 {
	if p.until.IsZero() || !now.Before(p.until) {
		*p = pulse{}
		return 0
	}
	return p.value
}

func (c *Console) isCommandMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commandMode
}

func boolLabel(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
