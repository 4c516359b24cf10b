package core

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameMode distinguishes the three payload shapes a session can carry over
// one TCP stream.
type FrameMode byte

const (
	FrameModePacket FrameMode = 0x00 // a serialized Container
	FrameModeFile   FrameMode = 0x01 // a whole file transfer in one frame
	FrameModeBinary FrameMode = 0x02 // an opaque byte payload
)

// MaxFrameLength bounds a single frame's declared payload length, guarding
// against a corrupt or hostile length field forcing an unbounded allocation.
const MaxFrameLength = 64 << 20 // 64 MiB

// DefaultStartCode and DefaultEndCode are the 4-byte sentinels that bracket
// every frame when a session is not configured with custom codes.
var (
	DefaultStartCode = [4]byte{0xF6, 0xF6, 0xF6, 0xF6}
	DefaultEndCode   = [4]byte{0x87, 0x87, 0x87, 0x87}
)

// FrameCodec writes and resynchronizes on the wire frame format:
//
//	START_CODE(4B) MODE(1B) LENGTH(4B LE) PAYLOAD END_CODE(4B)
type FrameCodec struct {
	StartCode [4]byte
	EndCode   [4]byte
}

// NewFrameCodec builds a codec with the given sentinels, falling back to
// the package defaults for either one left as the zero value.
func NewFrameCodec(start, end [4]byte) *FrameCodec {
	if start == ([4]byte{}) {
		start = DefaultStartCode
	}
	if end == ([4]byte{}) {
		end = DefaultEndCode
	}
	return &FrameCodec{StartCode: start, EndCode: end}
}

// WriteFrame writes one complete frame to w.
func (f *FrameCodec) WriteFrame(w io.Writer, mode FrameMode, payload []byte) error {
	buf := make([]byte, 0, 4+1+4+len(payload)+4)
	buf = append(buf, f.StartCode[:]...)
	buf = append(buf, byte(mode))
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
	buf = append(buf, lenBuf...)
	buf = append(buf, payload...)
	buf = append(buf, f.EndCode[:]...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailed, err)
	}
	return nil
}

// ReadFrame reads one frame from r, resynchronizing on StartCode a byte at a
// time if the stream is misaligned (e.g. after a prior partial read).
func (f *FrameCodec) ReadFrame(r *bufio.Reader) (FrameMode, []byte, error) {
	if err := f.syncToStart(r); err != nil {
		return 0, nil, err
	}

	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("%w: short frame header: %v", ErrFraming, err)
	}
	mode := FrameMode(header[0])
	length := binary.LittleEndian.Uint32(header[1:5])
	if length > MaxFrameLength {
		return 0, nil, fmt.Errorf("%w: frame length %d exceeds max", ErrFraming, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("%w: short frame payload: %v", ErrFraming, err)
		}
	}

	end := make([]byte, 4)
	if _, err := io.ReadFull(r, end); err != nil {
		return 0, nil, fmt.Errorf("%w: short frame trailer: %v", ErrFraming, err)
	}
	if !bytes.Equal(end, f.EndCode[:]) {
		return 0, nil, fmt.Errorf("%w: bad end code", ErrFraming)
	}
	return mode, payload, nil
}

// syncToStart advances r one byte at a time until the next 4 bytes match
// StartCode, discarding everything before it.
func (f *FrameCodec) syncToStart(r *bufio.Reader) error {
	window := make([]byte, 0, 4)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFraming, err)
		}
		if len(window) < 4 {
			window = append(window, b)
		} else {
			copy(window, window[1:])
			window[3] = b
		}
		if len(window) == 4 && bytes.Equal(window, f.StartCode[:]) {
			return nil
		}
	}
}
