package core

import "fmt"

// MaxBinaryChunk bounds how much of a payload SendBinaryChunks puts in any
// one frame, keeping individual frames well under MaxFrameLength even after
// the pipeline's encryption overhead is added.
const MaxBinaryChunk = 1 << 20 // 1 MiB

// SendBinaryChunks splits payload into MaxBinaryChunk-sized binary frames
// and sends them in order. p is passed to SendBinary for each chunk, which
// does not use it to pick a scheduler lane. Each chunk goes through the normal
// pipeline and ordered-send machinery independently, so a receiver must
// reassemble by concatenating OnBinary callbacks in arrival order.
func (s *Session) SendBinaryChunks(p Priority, payload []byte) error {
	if len(payload) == 0 {
		return s.SendBinary(p, payload)
	}
	for offset := 0; offset < len(payload); offset += MaxBinaryChunk {
		end := offset + MaxBinaryChunk
		if end > len(payload) {
			end = len(payload)
		}
		if err := s.SendBinary(p, payload[offset:end]); err != nil {
			return fmt.Errorf("core: sending binary chunk at offset %d: %w", offset, err)
		}
	}
	return nil
}
