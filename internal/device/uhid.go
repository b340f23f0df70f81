package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultUHIDPath is the Linux user-space HID character device.
const DefaultUHIDPath = "/dev/uhid"

// uhid event types, see include/uapi/linux/uhid.h.
const (
	uhidDestroy        uint32 = 1
	uhidStart          uint32 = 2
	uhidStop           uint32 = 3
	uhidOpen           uint32 = 4
	uhidClose          uint32 = 5
	uhidOutput         uint32 = 6
	uhidGetReport      uint32 = 9
	uhidGetReportReply uint32 = 10
	uhidCreate2        uint32 = 11
	uhidInput2         uint32 = 12
	uhidSetReport      uint32 = 13
	uhidSetReportReply uint32 = 14
)

const (
	uhidNameSize      = 128
	uhidPhysSize      = 64
	uhidUniqSize      = 64
	uhidDataMax       = 4096
	uhidDescriptorMax = 4096
	// type + the largest union member (create2)
	uhidEventSize = 4 + uhidNameSize + uhidPhysSize + uhidUniqSize + 2 + 2 + 4*4 + uhidDescriptorMax
)

var (
	ErrDescriptorTooLarge = errors.New("uhid: report descriptor exceeds 4096 bytes")
	ErrNameTooLong        = errors.New("uhid: device name exceeds 127 bytes")
	ErrShortEvent         = errors.New("uhid: short event")
)

var ne = binary.NativeEndian

// UHID drives /dev/uhid. The kernel creates a real HID device that every
// application on the host can read like a physical joystick.
type UHID struct {
	path string
}

func NewUHID(path string) *UHID {
	if path == "" {
		path = DefaultUHIDPath
	}
	return &UHID{path: path}
}

func (u *UHID) Name() string { return "uhid" }

func (u *UHID) Open(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	create, err := encodeCreate2(spec)
	if err != nil {
		return nil, err
	}
	rw, err := openUHID(u.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", u.path, err)
	}
	h := newUHIDHandle(rw)
	if err := h.write(create); err != nil {
		_ = rw.Close()
		return nil, fmt.Errorf("uhid create: %w", err)
	}
	go h.readLoop()
	slog.Info("uhid device created", "name", spec.Name, "vendor", fmt.Sprintf("0x%04x", spec.Vendor), "product", fmt.Sprintf("0x%04x", spec.Product))
	return h, nil
}

type uhidHandle struct {
	rw io.ReadWriteCloser

	mu     sync.Mutex
	last   []byte
	closed bool
	done   chan struct{}
}

func newUHIDHandle(rw io.ReadWriteCloser) *uhidHandle {
	return &uhidHandle{rw: rw, done: make(chan struct{})}
}

func (h *uhidHandle) write(ev []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.writeLocked(ev)
}

func (h *uhidHandle) writeLocked(ev []byte) error {
	n, err := h.rw.Write(ev)
	if err != nil {
		return err
	}
	if n != len(ev) {
		return io.ErrShortWrite
	}
	return nil
}

func (h *uhidHandle) WriteReport(report []byte) error {
	ev, err := encodeInput2(report)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if err := h.writeLocked(ev); err != nil {
		return err
	}
	h.last = append(h.last[:0], report...)
	return nil
}

func (h *uhidHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.closed = true
	destroyErr := h.writeLocked(encodeDestroy())
	h.mu.Unlock()

	closeErr := h.rw.Close()
	if destroyErr != nil {
		return errors.Join(fmt.Errorf("uhid destroy: %w", destroyErr), closeErr)
	}
	return closeErr
}

// readLoop consumes kernel events until the file is closed. GET_REPORT and
// SET_REPORT must be answered or the host side blocks until timeout.
func (h *uhidHandle) readLoop() {
	defer close(h.done)
	buf := make([]byte, uhidEventSize)
	for {
		n, err := h.rw.Read(buf)
		if err != nil {
			h.mu.Lock()
			closed := h.closed
			h.mu.Unlock()
			if !closed {
				slog.Error("uhid read failed", "error", err)
			}
			return
		}
		if err := h.handleEvent(buf[:n]); err != nil {
			slog.Warn("uhid event handling failed", "error", err)
		}
	}
}

func (h *uhidHandle) handleEvent(ev []byte) error {
	if len(ev) < 4 {
		return ErrShortEvent
	}
	typ := ne.Uint32(ev)
	body := ev[4:]
	switch typ {
	case uhidStart:
		slog.Debug("uhid start")
	case uhidStop:
		slog.Debug("uhid stop")
	case uhidOpen:
		slog.Info("Host opened virtual device")
	case uhidClose:
		slog.Info("Host closed virtual device")
	case uhidOutput:
		slog.Debug("Ignoring uhid output report")
	case uhidGetReport:
		if len(body) < 6 {
			return ErrShortEvent
		}
		id := ne.Uint32(body)
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return nil
		}
		report := h.last
		if report == nil {
			report = make([]byte, 8)
		}
		return h.writeLocked(encodeGetReportReply(id, 0, report))
	case uhidSetReport:
		if len(body) < 4 {
			return ErrShortEvent
		}
		id := ne.Uint32(body)
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return nil
		}
		return h.writeLocked(encodeSetReportReply(id, 0))
	default:
		slog.Debug("Unhandled uhid event", "type", typ)
	}
	return nil
}

func encodeCreate2(spec Spec) ([]byte, error) {
	if len(spec.Name) >= uhidNameSize {
		return nil, ErrNameTooLong
	}
	if len(spec.Descriptor) > uhidDescriptorMax {
		return nil, ErrDescriptorTooLarge
	}
	fixed := 4 + uhidNameSize + uhidPhysSize + uhidUniqSize + 2 + 2 + 4*4
	ev := make([]byte, fixed+len(spec.Descriptor))
	ne.PutUint32(ev[0:], uhidCreate2)
	off := 4
	copy(ev[off:off+uhidNameSize-1], spec.Name)
	off += uhidNameSize
	copy(ev[off:off+uhidPhysSize-1], spec.Phys)
	off += uhidPhysSize
	copy(ev[off:off+uhidUniqSize-1], spec.Uniq)
	off += uhidUniqSize
	ne.PutUint16(ev[off:], uint16(len(spec.Descriptor)))
	ne.PutUint16(ev[off+2:], spec.Bus)
	ne.PutUint32(ev[off+4:], spec.Vendor)
	ne.PutUint32(ev[off+8:], spec.Product)
	ne.PutUint32(ev[off+12:], spec.Version)
	ne.PutUint32(ev[off+16:], spec.Country)
	copy(ev[fixed:], spec.Descriptor)
	return ev, nil
}

func encodeInput2(report []byte) ([]byte, error) {
	if len(report) > uhidDataMax {
		return nil, fmt.Errorf("uhid: report of %d bytes exceeds %d", len(report), uhidDataMax)
	}
	ev := make([]byte, 4+2+len(report))
	ne.PutUint32(ev[0:], uhidInput2)
	ne.PutUint16(ev[4:], uint16(len(report)))
	copy(ev[6:], report)
	return ev, nil
}

func encodeDestroy() []byte {
	ev := make([]byte, 4)
	ne.PutUint32(ev, uhidDestroy)
	return ev
}

func encodeGetReportReply(id uint32, errno uint16, data []byte) []byte {
	ev := make([]byte, 4+4+2+2+len(data))
	ne.PutUint32(ev[0:], uhidGetReportReply)
	ne.PutUint32(ev[4:], id)
	ne.PutUint16(ev[8:], errno)
	ne.PutUint16(ev[10:], uint16(len(data)))
	copy(ev[12:], data)
	return ev
}

func encodeSetReportReply(id uint32, errno uint16) []byte {
	ev := make([]byte, 4+4+2)
	ne.PutUint32(ev[0:], uhidSetReportReply)
	ne.PutUint32(ev[4:], id)
	ne.PutUint16(ev[8:], errno)
	return ev
}
