package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadPacket(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    *Packet
		wantErr error
	}{
		{
			name: "正常数据包",
			input: []byte{
				0x06,                         // Length = 6
				0x01,                         // PacketID = 1
				0x48, 0x65, 0x6c, 0x6c, 0x6f, // "Hello"
			},
			want: &Packet{ID: 1, Payload: []byte("Hello")},
		},
		{
			name:  "空Payload",
			input: []byte{0x01, 0x02},
			want:  &Packet{ID: 2, Payload: []byte{}},
		},
		{
			name: "大PacketID",
			input: []byte{
				0x03,       // Length = 3
				0x80, 0x01, // PacketID = 128 (VarInt编码)
				0x01,
			},
			want: &Packet{ID: 128, Payload: []byte{0x01}},
		},
		{
			name:    "Length为0",
			input:   []byte{0x00},
			wantErr: ErrInvalidPacket,
		},
		{
			name:    "Length超过上限",
			input:   []byte{0x81, 0x08}, // 1025
			wantErr: ErrPacketTooLarge,
		},
		{
			name:    "Length声明大于实际数据",
			input:   []byte{0x05, 0x01, 0x02},
			wantErr: ErrInvalidPacket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadPacket(bytes.NewReader(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadPacket() error = %v, 期望 %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadPacket() 返回错误: %v", err)
			}
			if got.ID != tt.want.ID {
				t.Errorf("ID = %d, 期望 %d", got.ID, tt.want.ID)
			}
			if !bytes.Equal(got.Payload, tt.want.Payload) {
				t.Errorf("Payload = %v, 期望 %v", got.Payload, tt.want.Payload)
			}
		})
	}
}

func TestReadPacketEmptyInput(t *testing.T) {
	if _, err := ReadPacket(bytes.NewReader(nil)); err == nil {
		t.Fatal("空输入应返回错误")
	}
}

func TestWritePacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := &Packet{ID: C2SKeepAlive, Payload: []byte{1, 2, 3, 4}}
	if err := WritePacket(&buf, want); err != nil {
		t.Fatalf("WritePacket() 返回错误: %v", err)
	}

	// Length(1) + ID(1) + Payload(4)
	if buf.Len() != 6 {
		t.Fatalf("编码长度 = %d, 期望 6", buf.Len())
	}

	got, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket() 返回错误: %v", err)
	}
	if got.ID != want.ID || !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("got %+v, 期望 %+v", got, want)
	}
}

func TestWritePacketTooLarge(t *testing.T) {
	var buf bytes.Buffer
	p := &Packet{ID: 1, Payload: make([]byte, MaxPacketSize)}
	if err := WritePacket(&buf, p); !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("WritePacket() error = %v, 期望 ErrPacketTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Errorf("超限时不应写入任何字节, 实际写入 %d", buf.Len())
	}
}

// countingWriter 记录 Write 调用次数
type countingWriter struct {
	calls int
	buf   bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	return w.buf.Write(p)
}

func TestWritePacketSingleWrite(t *testing.T) {
	w := &countingWriter{}
	if err := WritePacket(w, CreateAxesPacket(Axes{LeftX: 1})); err != nil {
		t.Fatalf("WritePacket() 返回错误: %v", err)
	}
	if w.calls != 1 {
		t.Errorf("Write 调用次数 = %d, 期望 1", w.calls)
	}
}
