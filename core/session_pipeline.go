package core

import "sync"

// writeFunc performs the actual wire write for one ready frame.
type writeFunc func(mode FrameMode, payload []byte) error

// orderedSender guarantees that frames reach the wire in the same order
// their Send* call was made, even though each call's compress/encrypt work
// runs concurrently on the scheduler and may finish in any order.
//
// Each Send* call first reserves a sequence number. When its pipelined
// encoding finishes, it calls complete with that number; orderedSender
// buffers out-of-turn completions and only writes once every lower-numbered
// slot has been filled, flushing any run of now-contiguous slots at once.
// This is the concrete shape of "implementations may enforce ordering by
// chaining send jobs through a single lane": the lane here is the
// reservation counter plus reorder buffer rather than a single goroutine
// serializing the whole pipeline, which would forfeit the scheduler's
// ability to run compression/encryption for independent messages in
// parallel.
type orderedSender struct {
	write writeFunc

	mu       sync.Mutex
	nextSeq  uint64
	nextSend uint64
	pending  map[uint64]pendingFrame
	aborted  map[uint64]struct{}
}

type pendingFrame struct {
	mode    FrameMode
	payload []byte
}

func newOrderedSender(write writeFunc) *orderedSender {
	return &orderedSender{
		write:   write,
		pending: make(map[uint64]pendingFrame),
		aborted: make(map[uint64]struct{}),
	}
}

// reserve claims the next sequence slot; the caller must eventually call
// complete or abort with the returned number exactly once.
func (o *orderedSender) reserve() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq := o.nextSeq
	o.nextSeq++
	return seq
}

// complete supplies the encoded frame for seq and writes every contiguous
// ready frame starting at the sender's current write cursor, in order. The
// write itself happens while holding the sender's lock: two completions
// racing to flush overlapping-in-time but disjoint-in-sequence batches must
// never let the higher-sequence batch reach the wire first, and serializing
// the writes under the same lock that orders the sequence space is the
// simplest way to guarantee that.
func (o *orderedSender) complete(seq uint64, mode FrameMode, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[seq] = pendingFrame{mode: mode, payload: payload}
	return o.advanceAndWriteLocked()
}

// abort marks seq as never arriving (its pipeline stage failed), letting
// later, already-buffered completions flush past the gap instead of
// stalling the session forever.
func (o *orderedSender) abort(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aborted[seq] = struct{}{}
	_ = o.advanceAndWriteLocked()
}

// advanceAndWriteLocked walks nextSend forward over any slot that is either
// filled or aborted, writing each filled frame in order. Callers must hold
// o.mu; it is released only by the deferred unlock in the public methods.
func (o *orderedSender) advanceAndWriteLocked() error {
	for {
		if _, skip := o.aborted[o.nextSend]; skip {
			delete(o.aborted, o.nextSend)
			o.nextSend++
			continue
		}
		f, ok := o.pending[o.nextSend]
		if !ok {
			return nil
		}
		delete(o.pending, o.nextSend)
		o.nextSend++
		if err := o.write(f.mode, f.payload); err != nil {
			return err
		}
	}
}

func (o *orderedSender) stop() {}
