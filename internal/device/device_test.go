package device

import (
	"context"
	"errors"
	"testing"
)

func TestNewKnownDrivers(t *testing.T) {
	for _, name := range []string{"uhid", "loopback"} {
		d, err := New(name, Options{})
		if err != nil {
			t.Fatalf("New(%q) 返回错误: %v", name, err)
		}
		if d.Name() != name {
			t.Errorf("Name() = %q, 期望 %q", d.Name(), name)
		}
	}
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New("foohid", Options{})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("error = %v, 期望 ErrUnknownDriver", err)
	}
}

func TestRegister(t *testing.T) {
	lb := NewLoopback()
	Register("test-only", func(Options) Driver { return lb })
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, "test-only")
		registryMu.Unlock()
	})

	d, err := New("test-only", Options{})
	if err != nil {
		t.Fatalf("New() 返回错误: %v", err)
	}
	if d != lb {
		t.Error("应返回注册的驱动实例")
	}
	found := false
	for _, n := range Names() {
		if n == "test-only" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v, 应包含 test-only", Names())
	}
}

func TestLoopbackLifecycle(t *testing.T) {
	lb := NewLoopback()
	h, err := lb.Open(context.Background(), Spec{Name: "wheel"})
	if err != nil {
		t.Fatalf("Open() 返回错误: %v", err)
	}
	if !lb.Live() {
		t.Fatal("Open 之后应为 Live")
	}
	if spec, ok := lb.Spec(); !ok || spec.Name != "wheel" {
		t.Errorf("Spec() = %+v, %v", spec, ok)
	}

	if err := h.WriteReport([]byte{1, 2}); err != nil {
		t.Fatalf("WriteReport() 返回错误: %v", err)
	}
	if err := h.WriteReport([]byte{3, 4}); err != nil {
		t.Fatalf("WriteReport() 返回错误: %v", err)
	}
	if got := lb.Reports(); len(got) != 2 {
		t.Fatalf("Reports() 数量 = %d, 期望 2", len(got))
	}
	if last := lb.Last(); last[0] != 3 {
		t.Errorf("Last() = %v", last)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close() 返回错误: %v", err)
	}
	if lb.Live() {
		t.Error("Close 之后不应为 Live")
	}
	if err := h.WriteReport([]byte{5}); !errors.Is(err, ErrClosed) {
		t.Errorf("关闭后写入 error = %v, 期望 ErrClosed", err)
	}
	if err := h.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("重复关闭 error = %v, 期望 ErrClosed", err)
	}
	opened, closed := lb.Counts()
	if opened != 1 || closed != 1 {
		t.Errorf("Counts() = %d/%d, 期望 1/1", opened, closed)
	}
}

func TestLoopbackFailures(t *testing.T) {
	lb := NewLoopback()
	boom := errors.New("boom")

	lb.FailOpen = boom
	if _, err := lb.Open(context.Background(), Spec{}); !errors.Is(err, boom) {
		t.Fatalf("Open() error = %v, 期望 boom", err)
	}
	lb.FailOpen = nil

	h, err := lb.Open(context.Background(), Spec{})
	if err != nil {
		t.Fatalf("Open() 返回错误: %v", err)
	}
	lb.SetFailWrite(boom)
	if err := h.WriteReport([]byte{1}); !errors.Is(err, boom) {
		t.Errorf("WriteReport() error = %v, 期望 boom", err)
	}
}

func TestLoopbackCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLoopback().Open(ctx, Spec{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, 期望 context.Canceled", err)
	}
}
