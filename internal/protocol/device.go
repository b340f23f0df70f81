package protocol

import (
	"bytes"
	"io"
)

// DeviceState is the wire code of the virtual device lifecycle.
type DeviceState byte

const (
	DeviceDisconnected DeviceState = iota
	DeviceConnecting
	DeviceConnected
	DeviceDisconnecting
)

func (s DeviceState) String() string {
	switch s {
	case DeviceDisconnected:
		return "disconnected"
	case DeviceConnecting:
		return "connecting"
	case DeviceConnected:
		return "connected"
	case DeviceDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

func readDeviceState(r io.Reader) (DeviceState, error) {
	b, err := ReadByte(r)
	if err != nil {
		return 0, err
	}
	if b > byte(DeviceDisconnecting) {
		return 0, ErrUnknownDeviceCode
	}
	return DeviceState(b), nil
}

func CreateConnectDevicePacket() *Packet {
	return &Packet{ID: C2SConnectDevice, Payload: []byte{}}
}

func CreateDisconnectDevicePacket() *Packet {
	return &Packet{ID: C2SDisconnectDevice, Payload: []byte{}}
}

// DeviceResult answers ConnectDevice and DisconnectDevice.
type DeviceResult struct {
	OK    bool
	State DeviceState
}

func CreateDeviceResultPacket(ok bool, state DeviceState) *Packet {
	buf := new(bytes.Buffer)
	_ = WriteBool(buf, ok)
	_ = WriteByte(buf, byte(state))
	return &Packet{
		ID:      S2CDeviceResult,
		Payload: buf.Bytes(),
	}
}

func ParseDeviceResult(payload []byte) (*DeviceResult, error) {
	r := bytes.NewReader(payload)
	ok, err := ReadBool(r)
	if err != nil {
		return nil, err
	}
	state, err := readDeviceState(r)
	if err != nil {
		return nil, err
	}
	if err := expectEOF(r); err != nil {
		return nil, err
	}
	return &DeviceResult{OK: ok, State: state}, nil
}
