package protocol

import "errors"

var (
	ErrVarIntTooLong     = errors.New("varint is too long")
	ErrStringTooLong     = errors.New("string exceeds maximum length")
	ErrPacketTooLarge    = errors.New("packet size exceeds maximum allowed")
	ErrInvalidPacket     = errors.New("invalid packet structure")
	ErrUnexpectedPacket  = errors.New("unexpected packet for session state")
	ErrVersionMismatch   = errors.New("protocol version mismatch")
	ErrTrailingBytes     = errors.New("trailing bytes after packet payload")
	ErrUnknownDeviceCode = errors.New("unknown device state code")
)
