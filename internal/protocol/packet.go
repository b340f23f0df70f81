// Package protocol implements the controller wire protocol spoken between
// hoverwheel and its remote controller clients.
//
// Every frame is [VarInt length] [VarInt packet id] [payload], uncompressed.
package protocol

import (
	"bytes"
	"errors"
	"io"
)

// MaxPacketSize bounds a single frame; the largest packet is a Hello with a
// maximum length client name.
const MaxPacketSize = 1024

type Packet struct {
	ID      int32
	Payload []byte
}

func ReadPacket(r io.Reader) (*Packet, error) {
	packetLen, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}

	if packetLen <= 0 {
		return nil, ErrInvalidPacket
	}
	if packetLen > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}

	data := make([]byte, packetLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Join(ErrInvalidPacket, err)
	}

	rdr := bytes.NewReader(data)
	id, err := ReadVarint(rdr)
	if err != nil {
		return nil, errors.Join(ErrInvalidPacket, err)
	}
	payload, _ := io.ReadAll(rdr)
	return &Packet{
		ID:      id,
		Payload: payload,
	}, nil
}

func WritePacket(w io.Writer, packet *Packet) error {
	size := VarintLen(packet.ID) + len(packet.Payload)
	if size > MaxPacketSize {
		return ErrPacketTooLarge
	}

	// one Write per frame
	buf := bytes.NewBuffer(make([]byte, 0, size+5))
	if err := WriteVarint(buf, int32(size)); err != nil {
		return err
	}
	if err := WriteVarint(buf, packet.ID); err != nil {
		return err
	}
	buf.Write(packet.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// expectEOF reports ErrTrailingBytes when a parser left payload unread.
func expectEOF(r *bytes.Reader) error {
	if r.Len() != 0 {
		return ErrTrailingBytes
	}
	return nil
}
