package protocol

import (
	"bytes"
	"io"
)

// Axes carries one sample of both sticks. Values are nominally -1..1; the
// receiver clamps.
type Axes struct {
	LeftX  float32
	LeftY  float32
	RightX float32
	RightY float32
}

const axesPayloadSize = 16

func CreateAxesPacket(axes Axes) *Packet {
	buf := bytes.NewBuffer(make([]byte, 0, axesPayloadSize))
	_ = WriteFloat(buf, axes.LeftX)
	_ = WriteFloat(buf, axes.LeftY)
	_ = WriteFloat(buf, axes.RightX)
	_ = WriteFloat(buf, axes.RightY)
	return &Packet{
		ID:      C2SAxes,
		Payload: buf.Bytes(),
	}
}

func ParseAxes(payload []byte) (*Axes, error) {
	if len(payload) != axesPayloadSize {
		return nil, ErrInvalidPacket
	}
	r := bytes.NewReader(payload)
	var axes Axes
	var err error
	for _, dst := range []*float32{&axes.LeftX, &axes.LeftY, &axes.RightX, &axes.RightY} {
		if *dst, err = ReadFloat(r); err != nil {
			return nil, err
		}
	}
	return &axes, nil
}

type KeepAlive struct {
	KeepAliveID int64
}

func CreateKeepAlivePacket(keepAliveID int64, packetID int32) *Packet {
	buf := new(bytes.Buffer)
	_ = WriteInt64(buf, keepAliveID)
	return &Packet{
		ID:      packetID,
		Payload: buf.Bytes(),
	}
}

func ParseKeepAlive(r io.Reader) (*KeepAlive, error) {
	keepAliveID, err := ReadInt64(r)
	if err != nil {
		return nil, err
	}
	return &KeepAlive{
		KeepAliveID: keepAliveID,
	}, nil
}
