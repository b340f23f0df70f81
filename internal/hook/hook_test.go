package hook

import (
	"testing"

	"github.com/Versifine/hoverwheel/internal/protocol"
)

func TestDefaultHookPassesThrough(t *testing.T) {
	p := &protocol.Packet{ID: protocol.C2SAxes, Payload: []byte{1, 2}}
	if got := (&DefaultHook{}).OnPacket("s", p); got != p {
		t.Errorf("DefaultHook 应原样返回数据包")
	}
}

func TestChain(t *testing.T) {
	var calls []string
	record := func(name string) Hook {
		return Func(func(sessionID string, p *protocol.Packet) *protocol.Packet {
			calls = append(calls, name)
			return p
		})
	}
	drop := Func(func(string, *protocol.Packet) *protocol.Packet {
		calls = append(calls, "drop")
		return nil
	})
	rewrite := Func(func(_ string, p *protocol.Packet) *protocol.Packet {
		return &protocol.Packet{ID: protocol.C2SKeepAlive, Payload: p.Payload}
	})

	tests := []struct {
		name      string
		chain     Chain
		wantNil   bool
		wantID    int32
		wantCalls []string
	}{
		{"空链", Chain{}, false, protocol.C2SAxes, nil},
		{"全部通过", Chain{record("a"), Tracer{}, record("b")}, false, protocol.C2SAxes, []string{"a", "b"}},
		{"中途丢弃", Chain{record("a"), drop, record("b")}, true, 0, []string{"a", "drop"}},
		{"改写数据包", Chain{rewrite, record("a")}, false, protocol.C2SKeepAlive, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			got := tt.chain.OnPacket("s", &protocol.Packet{ID: protocol.C2SAxes})
			if tt.wantNil {
				if got != nil {
					t.Fatalf("期望丢弃，得到 %+v", got)
				}
			} else if got == nil || got.ID != tt.wantID {
				t.Fatalf("got = %+v, 期望 ID %#x", got, tt.wantID)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, 期望 %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("calls = %v, 期望 %v", calls, tt.wantCalls)
				}
			}
		})
	}
}
