package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Versifine/hoverwheel/internal/device"
	"github.com/Versifine/hoverwheel/internal/event"
	"github.com/Versifine/hoverwheel/internal/hid"
	"github.com/Versifine/hoverwheel/internal/hook"
	"github.com/Versifine/hoverwheel/internal/protocol"
	"github.com/Versifine/hoverwheel/internal/record"
	"github.com/Versifine/hoverwheel/internal/wheel"
)

type testServer struct {
	addr   string
	srv    *Server
	wheel  *wheel.Wheel
	lb     *device.Loopback
	cancel context.CancelFunc
	done   chan error
}

func startServerForTest(t *testing.T, opts Options) *testServer {
	t.Helper()

	lb := device.NewLoopback()
	w := wheel.New(lb, wheel.Options{MaxRateHz: -1})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("启动监听失败: %v", err)
	}
	srv := NewServer(listener.Addr().String(), w, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	ts := &testServer{addr: listener.Addr().String(), srv: srv, wheel: w, lb: lb, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("等待服务器退出超时")
		}
		_ = w.Close(context.Background())
	})
	return ts
}

func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("连接服务器失败: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func writePacket(t *testing.T, conn net.Conn, p *protocol.Packet) {
	t.Helper()
	if err := protocol.WritePacket(conn, p); err != nil {
		t.Fatalf("写入数据包失败: %v", err)
	}
}

func readPacket(t *testing.T, conn net.Conn) *protocol.Packet {
	t.Helper()
	p, err := protocol.ReadPacket(conn)
	if err != nil {
		t.Fatalf("读取数据包失败: %v", err)
	}
	return p
}

func expectDisconnect(t *testing.T, conn net.Conn, wantReason string) {
	t.Helper()
	p := readPacket(t, conn)
	if p.ID != protocol.S2CDisconnect {
		t.Fatalf("Packet.ID = %#x, 期望 Disconnect", p.ID)
	}
	d, err := protocol.ParseDisconnect(bytes.NewReader(p.Payload))
	if err != nil {
		t.Fatalf("ParseDisconnect() 返回错误: %v", err)
	}
	if !strings.Contains(d.Reason, wantReason) {
		t.Errorf("Reason = %q, 期望包含 %q", d.Reason, wantReason)
	}
}

// join 完成握手并返回 Welcome
func join(t *testing.T, addr, name string) (net.Conn, *protocol.Welcome) {
	t.Helper()
	conn := dialRaw(t, addr)
	hello, err := protocol.CreateHelloPacket(protocol.CurrentProtocolVersion, name)
	if err != nil {
		t.Fatalf("CreateHelloPacket() 返回错误: %v", err)
	}
	writePacket(t, conn, hello)
	p := readPacket(t, conn)
	if p.ID != protocol.S2CWelcome {
		t.Fatalf("Packet.ID = %#x, 期望 Welcome", p.ID)
	}
	welcome, err := protocol.ParseWelcome(bytes.NewReader(p.Payload))
	if err != nil {
		t.Fatalf("ParseWelcome() 返回错误: %v", err)
	}
	return conn, welcome
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func lastReport(lb *device.Loopback) hid.Report {
	r, _ := hid.ParseReport(lb.Last())
	return r
}

func TestHandshakeWelcome(t *testing.T) {
	ts := startServerForTest(t, Options{})

	_, welcome := join(t, ts.addr, "pad")
	if _, err := uuid.Parse(welcome.SessionID); err != nil {
		t.Errorf("SessionID = %q 不是有效的 uuid: %v", welcome.SessionID, err)
	}
	if welcome.DeviceState != protocol.DeviceDisconnected {
		t.Errorf("DeviceState = %v, 期望 disconnected", welcome.DeviceState)
	}

	waitFor(t, func() bool { return len(ts.srv.Clients()) == 1 })
	if c := ts.srv.Clients()[0]; c.ClientName != "pad" || c.SessionID != welcome.SessionID {
		t.Errorf("Clients()[0] = %+v", c)
	}
}

func TestHandshakeRejects(t *testing.T) {
	tests := []struct {
		name   string
		first  func(t *testing.T) *protocol.Packet
		reason string
	}{
		{
			name:   "首包不是Hello",
			first:  func(t *testing.T) *protocol.Packet { return protocol.CreateAxesPacket(protocol.Axes{}) },
			reason: ReasonExpectedHello,
		},
		{
			name: "协议版本不匹配",
			first: func(t *testing.T) *protocol.Packet {
				p, err := protocol.CreateHelloPacket(99, "old")
				if err != nil {
					t.Fatalf("CreateHelloPacket() 返回错误: %v", err)
				}
				return p
			},
			reason: "unsupported protocol version 99",
		},
		{
			name: "Hello载荷损坏",
			first: func(t *testing.T) *protocol.Packet {
				return &protocol.Packet{ID: protocol.C2SHello, Payload: []byte{0x01, 0x7f}}
			},
			reason: ReasonMalformedPacket,
		},
	}

	ts := startServerForTest(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialRaw(t, ts.addr)
			writePacket(t, conn, tt.first(t))
			expectDisconnect(t, conn, tt.reason)

			if _, err := protocol.ReadPacket(conn); !errors.Is(err, io.EOF) {
				t.Errorf("断开后应读到 EOF, 实际: %v", err)
			}
		})
	}
}

func TestDeviceCommands(t *testing.T) {
	ts := startServerForTest(t, Options{})
	conn, _ := join(t, ts.addr, "pad")

	readResult := func() *protocol.DeviceResult {
		t.Helper()
		p := readPacket(t, conn)
		if p.ID != protocol.S2CDeviceResult {
			t.Fatalf("Packet.ID = %#x, 期望 DeviceResult", p.ID)
		}
		res, err := protocol.ParseDeviceResult(p.Payload)
		if err != nil {
			t.Fatalf("ParseDeviceResult() 返回错误: %v", err)
		}
		return res
	}

	writePacket(t, conn, protocol.CreateConnectDevicePacket())
	if res := readResult(); !res.OK || res.State != protocol.DeviceConnected {
		t.Fatalf("连接结果 = %+v, 期望 ok/connected", res)
	}
	if !ts.lb.Live() {
		t.Fatal("设备应已创建")
	}

	writePacket(t, conn, protocol.CreateAxesPacket(protocol.Axes{LeftX: 1, RightY: -1}))
	want := hid.Report{LeftX: hid.AxisMax, RightY: -hid.AxisMax}
	waitFor(t, func() bool { return lastReport(ts.lb) == want })

	writePacket(t, conn, protocol.CreateConnectDevicePacket())
	if res := readResult(); res.OK || res.State != protocol.DeviceConnected {
		t.Errorf("重复连接结果 = %+v, 期望 false/connected", res)
	}

	writePacket(t, conn, protocol.CreateDisconnectDevicePacket())
	if res := readResult(); !res.OK || res.State != protocol.DeviceDisconnected {
		t.Fatalf("断开结果 = %+v, 期望 ok/disconnected", res)
	}
	writePacket(t, conn, protocol.CreateDisconnectDevicePacket())
	if res := readResult(); res.OK {
		t.Errorf("重复断开结果 = %+v, 期望 false", res)
	}
}

func TestKeepAliveEcho(t *testing.T) {
	ts := startServerForTest(t, Options{})
	conn, _ := join(t, ts.addr, "pad")

	writePacket(t, conn, protocol.CreateKeepAlivePacket(42, protocol.C2SKeepAlive))
	p := readPacket(t, conn)
	if p.ID != protocol.S2CKeepAlive {
		t.Fatalf("Packet.ID = %#x, 期望 KeepAlive", p.ID)
	}
	ka, err := protocol.ParseKeepAlive(bytes.NewReader(p.Payload))
	if err != nil {
		t.Fatalf("ParseKeepAlive() 返回错误: %v", err)
	}
	if ka.KeepAliveID != 42 {
		t.Errorf("KeepAliveID = %d, 期望 42", ka.KeepAliveID)
	}
}

func TestMalformedAxesDisconnects(t *testing.T) {
	ts := startServerForTest(t, Options{})
	conn, _ := join(t, ts.addr, "pad")

	writePacket(t, conn, &protocol.Packet{ID: protocol.C2SAxes, Payload: []byte{1, 2, 3}})
	expectDisconnect(t, conn, ReasonMalformedPacket)
}

func TestSecondHelloDisconnects(t *testing.T) {
	ts := startServerForTest(t, Options{})
	conn, _ := join(t, ts.addr, "pad")

	hello, _ := protocol.CreateHelloPacket(protocol.CurrentProtocolVersion, "again")
	writePacket(t, conn, hello)
	expectDisconnect(t, conn, ReasonUnexpectedHello)
}

func TestUnknownPacketIgnored(t *testing.T) {
	ts := startServerForTest(t, Options{})
	conn, _ := join(t, ts.addr, "pad")

	writePacket(t, conn, &protocol.Packet{ID: 0x7f, Payload: []byte("x")})
	writePacket(t, conn, protocol.CreateKeepAlivePacket(7, protocol.C2SKeepAlive))
	if p := readPacket(t, conn); p.ID != protocol.S2CKeepAlive {
		t.Errorf("未知数据包后 Packet.ID = %#x, 期望 KeepAlive", p.ID)
	}
}

func TestHookDropsPackets(t *testing.T) {
	var mu sync.Mutex
	var seen []int32
	h := hook.Func(func(sessionID string, p *protocol.Packet) *protocol.Packet {
		mu.Lock()
		seen = append(seen, p.ID)
		mu.Unlock()
		if p.ID == protocol.C2SAxes {
			return nil
		}
		return p
	})
	ts := startServerForTest(t, Options{Hook: h})
	if !ts.wheel.ConnectDevice() {
		t.Fatal("ConnectDevice() 应返回 true")
	}
	conn, _ := join(t, ts.addr, "pad")

	writePacket(t, conn, protocol.CreateAxesPacket(protocol.Axes{LeftX: 1}))
	writePacket(t, conn, protocol.CreateKeepAlivePacket(9, protocol.C2SKeepAlive))
	if p := readPacket(t, conn); p.ID != protocol.S2CKeepAlive {
		t.Fatalf("Packet.ID = %#x, 期望 KeepAlive", p.ID)
	}

	if got := lastReport(ts.lb); got.LeftX == hid.AxisMax {
		t.Errorf("被丢弃的 axes 不应到达设备: %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != protocol.C2SAxes || seen[1] != protocol.C2SKeepAlive {
		t.Errorf("hook 看到的数据包 = %v, 期望 [axes keepalive]", seen)
	}
}

func TestServerFull(t *testing.T) {
	ts := startServerForTest(t, Options{MaxClients: 1})
	join(t, ts.addr, "first")

	conn := dialRaw(t, ts.addr)
	hello, _ := protocol.CreateHelloPacket(protocol.CurrentProtocolVersion, "second")
	writePacket(t, conn, hello)
	expectDisconnect(t, conn, ReasonServerFull)
}

func TestClientTimeout(t *testing.T) {
	ts := startServerForTest(t, Options{ClientTimeout: 100 * time.Millisecond})
	conn, _ := join(t, ts.addr, "idle")

	expectDisconnect(t, conn, ReasonTimedOut)
	waitFor(t, func() bool { return len(ts.srv.Clients()) == 0 })
}

func TestCenterOnIdle(t *testing.T) {
	ts := startServerForTest(t, Options{CenterOnIdle: true})
	if err := ts.wheel.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() 返回错误: %v", err)
	}
	conn, welcome := join(t, ts.addr, "pad")
	if welcome.DeviceState != protocol.DeviceConnected {
		t.Errorf("DeviceState = %v, 期望 connected", welcome.DeviceState)
	}

	writePacket(t, conn, protocol.CreateAxesPacket(protocol.Axes{LeftX: 0.5}))
	waitFor(t, func() bool { return lastReport(ts.lb).LeftX != 0 })

	_ = conn.Close()
	waitFor(t, func() bool { return lastReport(ts.lb) == hid.Centered })
}

type fakeRecorder struct {
	mu     sync.Mutex
	begun  []record.SessionInfo
	frames map[string][]record.Frame
	ended  []string
}

func (r *fakeRecorder) Begin(_ context.Context, info record.SessionInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, info)
	return nil
}

func (r *fakeRecorder) Append(id string, f record.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames == nil {
		r.frames = make(map[string][]record.Frame)
	}
	r.frames[id] = append(r.frames[id], f)
	return nil
}

func (r *fakeRecorder) End(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
	return nil
}

func (r *fakeRecorder) endedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ended)
}

func TestRecordingAndEvents(t *testing.T) {
	bus := event.NewBus()
	var mu sync.Mutex
	var seen []string
	for _, name := range []string{event.EventClientJoined, event.EventClientLeft} {
		bus.Subscribe(name, func(raw any) {
			evt := raw.(*event.ClientEvent)
			mu.Lock()
			seen = append(seen, name+":"+evt.ClientName)
			mu.Unlock()
		})
	}
	rec := &fakeRecorder{}
	ts := startServerForTest(t, Options{Bus: bus, Recorder: rec})

	conn, welcome := join(t, ts.addr, "pad")
	writePacket(t, conn, protocol.CreateConnectDevicePacket())
	readPacket(t, conn)
	writePacket(t, conn, protocol.CreateAxesPacket(protocol.Axes{RightX: 0.25}))
	writePacket(t, conn, protocol.CreateKeepAlivePacket(1, protocol.C2SKeepAlive))
	readPacket(t, conn)
	_ = conn.Close()

	waitFor(t, func() bool { return rec.endedCount() == 1 })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})

	rec.mu.Lock()
	if len(rec.begun) != 1 || rec.begun[0].ID != welcome.SessionID || rec.begun[0].ClientName != "pad" {
		t.Errorf("Begin 调用 = %+v", rec.begun)
	}
	frames := rec.frames[welcome.SessionID]
	if len(frames) != 2 || frames[0].Kind != record.FrameConnect || frames[1].Kind != record.FrameAxes {
		t.Errorf("录制帧 = %+v, 期望 connect + axes", frames)
	} else if frames[1].Axes.RightX != 0.25 || frames[1].Offset < frames[0].Offset {
		t.Errorf("axes 帧 = %+v", frames[1])
	}
	rec.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != event.EventClientJoined+":pad" || seen[1] != event.EventClientLeft+":pad" {
		t.Errorf("事件 = %v", seen)
	}
}

func TestShutdownDisconnectsClients(t *testing.T) {
	ts := startServerForTest(t, Options{})
	conn, _ := join(t, ts.addr, "pad")
	waitFor(t, func() bool { return len(ts.srv.Clients()) == 1 })

	ts.cancel()
	expectDisconnect(t, conn, ReasonShutdown)

	select {
	case err := <-ts.done:
		if err != nil {
			t.Errorf("Serve() 返回错误: %v", err)
		}
		ts.done <- nil
	case <-time.After(3 * time.Second):
		t.Fatal("等待服务器退出超时")
	}
}

func TestDeviceStateMapping(t *testing.T) {
	tests := []struct {
		in   wheel.State
		want protocol.DeviceState
	}{
		{wheel.Disconnected, protocol.DeviceDisconnected},
		{wheel.Connecting, protocol.DeviceConnecting},
		{wheel.Connected, protocol.DeviceConnected},
		{wheel.Disconnecting, protocol.DeviceDisconnecting},
		{wheel.State(42), protocol.DeviceDisconnected},
	}
	for _, tt := range tests {
		if got := deviceState(tt.in); got != tt.want {
			t.Errorf("deviceState(%v) = %v, 期望 %v", tt.in, got, tt.want)
		}
	}
}
