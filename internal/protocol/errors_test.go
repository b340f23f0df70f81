package protocol

import (
	"errors"
	"testing"
)

// TestErrorsAreDistinct 测试每个错误都是独立的
func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrVarIntTooLong,
		ErrStringTooLong,
		ErrPacketTooLarge,
		ErrInvalidPacket,
		ErrUnexpectedPacket,
		ErrVersionMismatch,
		ErrTrailingBytes,
		ErrUnknownDeviceCode,
	}

	for i := 0; i < len(allErrors); i++ {
		for j := i + 1; j < len(allErrors); j++ {
			if errors.Is(allErrors[i], allErrors[j]) {
				t.Errorf("错误 %q 和 %q 不应相同", allErrors[i], allErrors[j])
			}
		}
	}
}
