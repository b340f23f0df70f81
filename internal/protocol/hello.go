package protocol

import (
	"bytes"
	"io"
)

type Hello struct {
	ProtocolVersion int32
	ClientName      string
}

func CreateHelloPacket(protocolVersion int32, clientName string) (*Packet, error) {
	buf := new(bytes.Buffer)
	_ = WriteVarint(buf, protocolVersion)
	if err := WriteString(buf, clientName); err != nil {
		return nil, err
	}
	return &Packet{
		ID:      C2SHello,
		Payload: buf.Bytes(),
	}, nil
}

func ParseHello(r io.Reader) (*Hello, error) {
	protocolVersion, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	clientName, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	return &Hello{
		ProtocolVersion: protocolVersion,
		ClientName:      clientName,
	}, nil
}

type Welcome struct {
	SessionID   string
	DeviceState DeviceState
}

func CreateWelcomePacket(sessionID string, state DeviceState) *Packet {
	buf := new(bytes.Buffer)
	_ = WriteString(buf, sessionID)
	_ = WriteByte(buf, byte(state))
	return &Packet{
		ID:      S2CWelcome,
		Payload: buf.Bytes(),
	}
}

func ParseWelcome(r io.Reader) (*Welcome, error) {
	sessionID, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	state, err := readDeviceState(r)
	if err != nil {
		return nil, err
	}
	return &Welcome{
		SessionID:   sessionID,
		DeviceState: state,
	}, nil
}

type Disconnect struct {
	Reason string
}

func CreateDisconnectPacket(reason string) *Packet {
	if len(reason) > MaxStringLength {
		reason = reason[:MaxStringLength]
	}
	buf := new(bytes.Buffer)
	_ = WriteString(buf, reason)
	return &Packet{
		ID:      S2CDisconnect,
		Payload: buf.Bytes(),
	}
}

func ParseDisconnect(r io.Reader) (*Disconnect, error) {
	reason, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	return &Disconnect{Reason: reason}, nil
}
