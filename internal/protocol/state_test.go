package protocol

import (
	"sync"
	"testing"
)

func TestConnStateDefault(t *testing.T) {
	cs := NewConnState()
	if cs.Get() != Handshaking {
		t.Errorf("默认状态 = %v, 期望 Handshaking", cs.Get())
	}
	if cs.GetClientName() != "" || cs.GetSessionID() != "" {
		t.Error("默认客户端信息应为空")
	}
}

func TestConnStateSetGet(t *testing.T) {
	cs := NewConnState()
	for _, s := range []State{Handshaking, Active, Closed} {
		cs.Set(s)
		if cs.Get() != s {
			t.Errorf("Set(%v) 后 Get() = %v", s, cs.Get())
		}
	}
	cs.SetClientName("pad")
	cs.SetSessionID("abc")
	if cs.GetClientName() != "pad" || cs.GetSessionID() != "abc" {
		t.Errorf("客户端信息 = %q/%q", cs.GetClientName(), cs.GetSessionID())
	}
}

func TestConnStateConcurrency(t *testing.T) {
	cs := NewConnState()
	var wg sync.WaitGroup

	// 并发设置状态
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(s State) {
			defer wg.Done()
			cs.Set(s)
			_ = cs.Get()
		}(State(i % 3))
	}
	wg.Wait()

	// 只要不 panic/race 就算通过
	got := cs.Get()
	if got < Handshaking || got > Closed {
		t.Errorf("最终状态 %v 不在合法范围内", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Handshaking: "handshaking",
		Active:      "active",
		Closed:      "closed",
		State(9):    "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, 期望 %q", int(s), s.String(), want)
		}
	}
}
