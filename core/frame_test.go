package core

import (
	"bufio"
	"bytes"
	"testing"
)

func TestFrameCodecWriteReadRoundTrip(t *testing.T) {
	fc := NewFrameCodec([4]byte{}, [4]byte{})
	var buf bytes.Buffer
	if err := fc.WriteFrame(&buf, FrameModePacket, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	mode, payload, err := fc.ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if mode != FrameModePacket {
		t.Fatalf("mode = %v, want packet", mode)
	}
	if string(payload) != "hello" {
		t.Fatalf("payload = %q, want hello", payload)
	}
}

func TestFrameCodecResyncsPastGarbage(t *testing.T) {
	fc := NewFrameCodec([4]byte{}, [4]byte{})
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x02, 0x03}) // garbage ahead of the real frame
	if err := fc.WriteFrame(&buf, FrameModeBinary, []byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	mode, payload, err := fc.ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if mode != FrameModeBinary || string(payload) != "x" {
		t.Fatalf("got mode=%v payload=%q", mode, payload)
	}
}

func TestFrameCodecRejectsBadEndCode(t *testing.T) {
	fc := NewFrameCodec([4]byte{}, [4]byte{})
	var buf bytes.Buffer
	buf.Write(DefaultStartCode[:])
	buf.WriteByte(byte(FrameModePacket))
	buf.Write([]byte{1, 0, 0, 0})
	buf.WriteByte('a')
	buf.Write([]byte{0, 0, 0, 0}) // wrong end code

	_, _, err := fc.ReadFrame(bufio.NewReader(&buf))
	if err == nil {
		t.Fatal("expected error for bad end code")
	}
}

func TestFrameCodecRejectsOverLongFrame(t *testing.T) {
	fc := NewFrameCodec([4]byte{}, [4]byte{})
	var buf bytes.Buffer
	buf.Write(DefaultStartCode[:])
	buf.WriteByte(byte(FrameModePacket))
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, _, err := fc.ReadFrame(bufio.NewReader(&buf))
	if err == nil {
		t.Fatal("expected error for over-length frame")
	}
}
