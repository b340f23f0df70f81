// Package client speaks the controller protocol to a hoverwheel server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Versifine/hoverwheel/internal/protocol"
	"github.com/Versifine/hoverwheel/internal/wheel"
)

const (
	handshakeTimeout = 10 * time.Second
	requestTimeout   = 5 * time.Second
)

var (
	ErrClosed   = errors.New("client: connection closed")
	ErrRejected = errors.New("client: device request rejected")
)

// DisconnectError carries the reason sent by the server before it closed the
// connection.
type DisconnectError struct {
	Reason string
}

func (e *DisconnectError) Error() string {
	return "client: disconnected by server: " + e.Reason
}

type Client struct {
	conn      net.Conn
	sessionID string
	state     atomic.Uint32

	writeMu sync.Mutex
	reqMu   sync.Mutex
	results chan *protocol.DeviceResult
	// resMu guards abandoned, the number of replies still owed to
	// cancelled requests. Replies arrive in request order.
	resMu     sync.Mutex
	abandoned int
	pongs     chan int64
	nextKA    atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Dial connects to addr and completes the Hello/Welcome handshake.
func Dial(ctx context.Context, addr, name string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	welcome, err := handshake(ctx, conn, name)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		conn:      conn,
		sessionID: welcome.SessionID,
		results:   make(chan *protocol.DeviceResult, 1),
		pongs:     make(chan int64, 1),
		done:      make(chan struct{}),
	}
	c.state.Store(uint32(welcome.DeviceState))
	go c.readLoop()
	return c, nil
}

func handshake(ctx context.Context, conn net.Conn, name string) (*protocol.Welcome, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	hello, err := protocol.CreateHelloPacket(protocol.CurrentProtocolVersion, name)
	if err != nil {
		return nil, err
	}
	if err := protocol.WritePacket(conn, hello); err != nil {
		return nil, fmt.Errorf("client: send hello: %w", err)
	}
	packet, err := protocol.ReadPacket(conn)
	if err != nil {
		return nil, fmt.Errorf("client: read welcome: %w", err)
	}
	switch packet.ID {
	case protocol.S2CWelcome:
		return protocol.ParseWelcome(bytes.NewReader(packet.Payload))
	case protocol.S2CDisconnect:
		d, err := protocol.ParseDisconnect(bytes.NewReader(packet.Payload))
		if err != nil {
			return nil, err
		}
		return nil, &DisconnectError{Reason: d.Reason}
	default:
		return nil, fmt.Errorf("%w: %#x during handshake", protocol.ErrUnexpectedPacket, packet.ID)
	}
}

func (c *Client) readLoop() {
	for {
		packet, err := protocol.ReadPacket(c.conn)
		if err != nil {
			c.fail(err)
			return
		}
		switch packet.ID {
		case protocol.S2CDeviceResult:
			res, err := protocol.ParseDeviceResult(packet.Payload)
			if err != nil {
				c.fail(err)
				return
			}
			c.state.Store(uint32(res.State))
			c.deliver(res)
		case protocol.S2CKeepAlive:
			ka, err := protocol.ParseKeepAlive(bytes.NewReader(packet.Payload))
			if err != nil {
				c.fail(err)
				return
			}
			select {
			case c.pongs <- ka.KeepAliveID:
			default:
			}
		case protocol.S2CDisconnect:
			d, err := protocol.ParseDisconnect(bytes.NewReader(packet.Payload))
			if err != nil {
				c.fail(err)
				return
			}
			c.fail(&DisconnectError{Reason: d.Reason})
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) write(p *protocol.Packet) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WritePacket(c.conn, p); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

func (c *Client) SessionID() string { return c.sessionID }

// DeviceState is the device state last reported by the server.
func (c *Client) DeviceState() protocol.DeviceState {
	return protocol.DeviceState(c.state.Load())
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, or nil while it is live.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) Send(ctx context.Context, axes wheel.Axes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(protocol.CreateAxesPacket(protocol.Axes{
		LeftX:  axes.LeftX,
		LeftY:  axes.LeftY,
		RightX: axes.RightX,
		RightY: axes.RightY,
	}))
}

func (c *Client) SendAxes(leftX, leftY, rightX, rightY float32) error {
	return c.Send(context.Background(), wheel.Axes{LeftX: leftX, LeftY: leftY, RightX: rightX, RightY: rightY})
}

// Connect asks the server to create the virtual device.
func (c *Client) Connect(ctx context.Context) error {
	return c.device(ctx, protocol.CreateConnectDevicePacket())
}

// Disconnect asks the server to remove the virtual device.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.device(ctx, protocol.CreateDisconnectDevicePacket())
}

func (c *Client) ConnectDevice() bool {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Connect(ctx) == nil
}

func (c *Client) DisconnectDevice() bool {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Disconnect(ctx) == nil
}

func (c *Client) device(ctx context.Context, p *protocol.Packet) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.write(p); err != nil {
		return err
	}
	select {
	case res := <-c.results:
		if !res.OK {
			return fmt.Errorf("%w: device is %s", ErrRejected, res.State)
		}
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		c.abandon()
		return ctx.Err()
	}
}

func (c *Client) deliver(res *protocol.DeviceResult) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	if c.abandoned > 0 {
		c.abandoned--
		return
	}
	select {
	case c.results <- res:
	default:
	}
}

// abandon gives up on the outstanding request. Its reply is discarded
// whether it is already queued or still in flight.
func (c *Client) abandon() {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	select {
	case <-c.results:
	default:
		c.abandoned++
	}
}

// KeepAlive pings the server and returns the round trip time.
func (c *Client) KeepAlive(ctx context.Context) (time.Duration, error) {
	id := c.nextKA.Add(1)
	start := time.Now()
	if err := c.write(protocol.CreateKeepAlivePacket(id, protocol.C2SKeepAlive)); err != nil {
		return 0, err
	}
	for {
		select {
		case got := <-c.pongs:
			if got == id {
				return time.Since(start), nil
			}
		case <-c.done:
			return 0, c.Err()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// RunKeepAlive pings every interval until ctx ends or the connection drops.
func (c *Client) RunKeepAlive(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.Err()
		case <-ticker.C:
			if _, err := c.KeepAlive(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}
