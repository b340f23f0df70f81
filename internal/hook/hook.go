// Package hook 负责拦截客户端数据包
// 服务器在分发每个包之前依次调用已注册的 Hook
package hook

import (
	"log/slog"

	"github.com/Versifine/hoverwheel/internal/protocol"
)

// Hook 定义拦截器接口
type Hook interface {
	// OnPacket 在收到客户端数据包时被调用
	// 返回修改后的包，或返回 nil 表示丢弃该包
	OnPacket(sessionID string, packet *protocol.Packet) *protocol.Packet
}

// Func 让普通函数满足 Hook
type Func func(sessionID string, packet *protocol.Packet) *protocol.Packet

func (f Func) OnPacket(sessionID string, packet *protocol.Packet) *protocol.Packet {
	return f(sessionID, packet)
}

// DefaultHook 默认拦截器实现，不做任何修改
type DefaultHook struct{}

// OnPacket 默认实现，直接返回原包
func (h *DefaultHook) OnPacket(sessionID string, packet *protocol.Packet) *protocol.Packet {
	return packet
}

// Chain 按顺序执行多个 Hook，任一返回 nil 即停止
type Chain []Hook

func (c Chain) OnPacket(sessionID string, packet *protocol.Packet) *protocol.Packet {
	for _, h := range c {
		if packet == nil {
			return nil
		}
		packet = h.OnPacket(sessionID, packet)
	}
	return packet
}

// Tracer 以 Debug 级别记录每个数据包
type Tracer struct{}

func (Tracer) OnPacket(sessionID string, packet *protocol.Packet) *protocol.Packet {
	slog.Debug("Client packet", "session", sessionID, "packetID", packet.ID, "size", len(packet.Payload))
	return packet
}
