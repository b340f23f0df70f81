// Package hid holds the report descriptor of the virtual steering wheel and
// the encoding of its input report.
package hid

import (
	"encoding/binary"
	"errors"
	"math"
)

// AxisMax is the logical maximum of every axis; the logical minimum is -AxisMax
// so that 0 is exactly centered.
const AxisMax = 32767

// ReportSize is the length of one input report in bytes.
const ReportSize = 8

var ErrReportSize = errors.New("hid: report must be 8 bytes")

// ReportDescriptor declares a joystick application collection with four
// absolute 16-bit axes: X, Y (left stick) and Rx, Ry (right stick).
var ReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x04, // Usage (Joystick)
	0xa1, 0x01, // Collection (Application)
	0x09, 0x01, //   Usage (Pointer)
	0xa1, 0x00, //   Collection (Physical)
	0x09, 0x30, //     Usage (X)
	0x09, 0x31, //     Usage (Y)
	0x09, 0x33, //     Usage (Rx)
	0x09, 0x34, //     Usage (Ry)
	0x16, 0x01, 0x80, //     Logical Minimum (-32767)
	0x26, 0xff, 0x7f, //     Logical Maximum (32767)
	0x75, 0x10, //     Report Size (16)
	0x95, 0x04, //     Report Count (4)
	0x81, 0x02, //     Input (Data, Variable, Absolute)
	0xc0, //   End Collection
	0xc0, // End Collection
}

// Report is one input report in axis units.
type Report struct {
	LeftX  int16
	LeftY  int16
	RightX int16
	RightY int16
}

// Centered is the report of both sticks at rest.
var Centered = Report{}

// EncodeAxis maps a normalized axis value to logical units. Out-of-range
// values saturate and NaN maps to center.
func EncodeAxis(v float32) int16 {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= 1:
		return AxisMax
	case f <= -1:
		return -AxisMax
	}
	return int16(math.Round(f * AxisMax))
}

// DecodeAxis is the inverse of EncodeAxis.
func DecodeAxis(v int16) float32 {
	if v < -AxisMax {
		v = -AxisMax
	}
	return float32(v) / AxisMax
}

// NewReport encodes four normalized axis values.
func NewReport(leftX, leftY, rightX, rightY float32) Report {
	return Report{
		LeftX:  EncodeAxis(leftX),
		LeftY:  EncodeAxis(leftY),
		RightX: EncodeAxis(rightX),
		RightY: EncodeAxis(rightY),
	}
}

// Bytes returns the little-endian wire form of the report.
func (r Report) Bytes() []byte {
	buf := make([]byte, ReportSize)
	binary.LittleEndian.PutUint16(buf[0:], uint16(r.LeftX))
	binary.LittleEndian.PutUint16(buf[2:], uint16(r.LeftY))
	binary.LittleEndian.PutUint16(buf[4:], uint16(r.RightX))
	binary.LittleEndian.PutUint16(buf[6:], uint16(r.RightY))
	return buf
}

func ParseReport(b []byte) (Report, error) {
	if len(b) != ReportSize {
		return Report{}, ErrReportSize
	}
	return Report{
		LeftX:  int16(binary.LittleEndian.Uint16(b[0:])),
		LeftY:  int16(binary.LittleEndian.Uint16(b[2:])),
		RightX: int16(binary.LittleEndian.Uint16(b[4:])),
		RightY: int16(binary.LittleEndian.Uint16(b[6:])),
	}, nil
}
