package core

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HandshakeState tracks a Session's progress through the connect/confirm
// exchange that must complete before any packet/file/binary frame is sent.
type HandshakeState int

const (
	HandshakeFresh HandshakeState = iota
	HandshakeSentRequest
	HandshakeConfirmed
	HandshakeRejected
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeFresh:
		return "fresh"
	case HandshakeSentRequest:
		return "sent_request"
	case HandshakeConfirmed:
		return "confirmed"
	case HandshakeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SessionType names the kind of frame traffic a Session carries, mirroring
// spec's session_type enum. SessionTypeUnspecified (the zero value) opts a
// Session out of type enforcement entirely, which existing callers that
// never set SessionType continue to get.
type SessionType int

const (
	SessionTypeUnspecified SessionType = iota
	SessionTypeMessageLine
	SessionTypeFileLine
	SessionTypeBinaryLine
)

func (t SessionType) String() string {
	switch t {
	case SessionTypeMessageLine:
		return "message_line"
	case SessionTypeFileLine:
		return "file_line"
	case SessionTypeBinaryLine:
		return "binary_line"
	default:
		return "unspecified"
	}
}

// wireCode returns the short enum value session_type carries on the wire.
// SessionTypeUnspecified is sent as message_line, the protocol default.
func (t SessionType) wireCode() int16 {
	switch t {
	case SessionTypeFileLine:
		return 1
	case SessionTypeBinaryLine:
		return 2
	default:
		return 0
	}
}

func sessionTypeFromWireCode(code int16) SessionType {
	switch code {
	case 1:
		return SessionTypeFileLine
	case 2:
		return SessionTypeBinaryLine
	default:
		return SessionTypeMessageLine
	}
}

// SessionOptions configures a Session at construction time. Zero values pick
// sensible defaults (see ApplyDefaults).
type SessionOptions struct {
	ConnectionKey   string // shared secret both peers must agree on
	ConnectAsClient bool   // true: send the handshake request; false: wait for one

	CompressEnabled bool
	EncryptEnabled  bool

	// SessionType declares what kind of frames this session carries.
	// SessionTypeUnspecified disables session-type enforcement.
	SessionType SessionType

	// BridgeMode is carried in the handshake so the peer knows this side is
	// a bridge relaying traffic rather than an end client.
	BridgeMode bool

	// SnippingTargets lists the message_type values this session wants
	// delivered on broadcast; empty means "everything". It is sent in the
	// handshake request only: Server's broadcast filter does not read it and
	// uses the snipping_targets value of the peer's containers instead.
	SnippingTargets []string

	StartCode [4]byte
	EndCode   [4]byte

	Scheduler  Scheduler
	Crypto     Crypto
	Compressor Compressor

	AutoEchoInterval time.Duration // 0 disables the keep-alive ticker

	SourceID    string
	SourceSubID string

	Metrics *Metrics // optional; nil disables metrics recording
}

// ApplyDefaults fills in a Crypto/Compressor/Scheduler/frame codec when the
// caller left them nil, so tests and simple callers can build a Session
// passing only a ConnectionKey and ConnectAsClient.
func (o *SessionOptions) ApplyDefaults() {
	if o.Crypto == nil {
		o.Crypto = NewSecretboxCrypto()
	}
	if o.Compressor == nil {
		o.Compressor = NewNopCompressor()
	}
	if o.Scheduler == nil {
		o.Scheduler = NewScheduler(4, 256)
	}
	if o.StartCode == ([4]byte{}) {
		o.StartCode = DefaultStartCode
	}
	if o.EndCode == ([4]byte{}) {
		o.EndCode = DefaultEndCode
	}
}

// Session wraps one TCP connection with the framing, handshake, and
// compress-then-encrypt send / decrypt-then-decompress receive pipeline.
// A Session is safe for concurrent Send calls; exactly one goroutine must
// drive Run.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	frames *FrameCodec

	opts SessionOptions
	key  [32]byte
	iv   [24]byte

	mu    sync.RWMutex
	state HandshakeState

	sender *orderedSender

	onContainer        func(*Container)
	onBinary           func([]byte)
	onFile             func(notice FileNotice)
	onConnectionChange func(confirmed bool)

	fileLoader func(indicationID, sourceID, sourceSubID, targetID, targetSubID, sourcePath, targetPath string) error

	log *logrus.Entry

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps conn with framing/handshake/pipeline behavior per opts.
// The session's symmetric key material is left zero until the handshake
// negotiates it (see session_handshake.go); a session with EncryptEnabled
// false never needs one.
func NewSession(conn net.Conn, opts SessionOptions, log *logrus.Entry) *Session {
	opts.ApplyDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		frames: NewFrameCodec(opts.StartCode, opts.EndCode),
		opts:   opts,
		log:    log.WithField("component", "session"),
		closed: make(chan struct{}),
	}
	s.sender = newOrderedSender(s.writeFrameNow)
	return s
}

// OnContainer registers the callback invoked for each received packet-mode
// frame once it has been decrypted, decompressed and parsed.
func (s *Session) OnContainer(fn func(*Container)) { s.onContainer = fn }

// OnBinary registers the callback invoked for each received binary-mode
// frame's raw payload.
func (s *Session) OnBinary(fn func([]byte)) { s.onBinary = fn }

// OnFile registers the callback invoked for each received file-mode frame,
// after its bytes have been written to disk.
func (s *Session) OnFile(fn func(notice FileNotice)) { s.onFile = fn }

// OnRequestFiles overrides the loader used to satisfy incoming
// request_files messages: for each (source_path, target_path) pair it must
// read source_path and push it through the file pipeline to the requester
// under the given indication_id. The default loader (used when none is
// registered) does exactly that by calling SendFile against the local
// filesystem, per spec.
func (s *Session) OnRequestFiles(fn func(indicationID, sourceID, sourceSubID, targetID, targetSubID, sourcePath, targetPath string) error) {
	s.fileLoader = fn
}

// OnConnectionChange registers the callback invoked whenever the handshake
// resolves to confirmed or rejected. Closing the session does not invoke it.
func (s *Session) OnConnectionChange(fn func(confirmed bool)) { s.onConnectionChange = fn }

// State returns the session's current handshake state.
func (s *Session) State() HandshakeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st HandshakeState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the handshake and then the receive loop until the connection
// closes or ctx is canceled. It returns only when the session is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.sender.stop()
	defer close(s.closed)

	if err := s.handshake(ctx); err != nil {
		return err
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionsActive.Inc()
		defer s.opts.Metrics.SessionsActive.Dec()
	}

	var echoStop chan struct{}
	if s.opts.AutoEchoInterval > 0 {
		echoStop = s.startEchoLoop(s.opts.AutoEchoInterval)
		defer close(echoStop)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		mode, payload, err := s.frames.ReadFrame(s.reader)
		if err != nil {
			return err
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.FramesReceived.WithLabelValues(frameModeLabel(mode)).Inc()
		}
		if err := s.dispatch(mode, payload); err != nil {
			s.log.WithError(err).Warn("dropping frame that failed dispatch")
		}
	}
}

// Close closes the underlying connection; the Scheduler is not stopped.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Done returns a channel closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.closed }

// dispatch is called from the Run loop for every frame read off the wire. It
// hands packet, binary and file frames to the staged receive pipeline and
// rejects any other mode; it does not check session_type itself.
func (s *Session) dispatch(mode FrameMode, payload []byte) error {
	switch mode {
	case FrameModePacket, FrameModeBinary, FrameModeFile:
		s.scheduleReceive(mode, payload)
		return nil
	default:
		return fmt.Errorf("%w: unknown frame mode %d", ErrFraming, mode)
	}
}

// scheduleReceive runs the spec's receive pipeline: a high-priority decrypt
// job whose continuation submits a normal-priority decompress job, whose
// continuation submits a high-priority parse/dispatch job. Each stage is
// skipped (but still runs as a scheduler job, to preserve ordering-free
// concurrency with other frames) when the corresponding pipeline feature is
// disabled.
func (s *Session) scheduleReceive(mode FrameMode, payload []byte) {
	parseStage := func(data []byte) {
		s.opts.Scheduler.Submit(PriorityHigh, func() {
			if err := s.dispatchDecoded(mode, data); err != nil {
				s.log.WithError(err).Warn("dropping frame that failed dispatch")
			}
		})
	}
	decompressStage := func(data []byte) {
		s.opts.Scheduler.Submit(PriorityNormal, func() {
			if !s.opts.CompressEnabled {
				parseStage(data)
				return
			}
			plain, err := s.opts.Compressor.Decompress(data)
			if err != nil {
				s.log.WithError(err).Warn("dropping frame: decompress failed")
				return
			}
			parseStage(plain)
		})
	}
	decryptStage := func() {
		s.opts.Scheduler.Submit(PriorityHigh, func() {
			if !s.opts.EncryptEnabled {
				decompressStage(payload)
				return
			}
			plain, err := s.opts.Crypto.Decrypt(s.key, payload)
			if err != nil {
				s.log.WithError(err).Warn("dropping frame: decrypt failed")
				return
			}
			decompressStage(plain)
		})
	}
	decryptStage()
}

// dispatchDecoded routes a fully decrypted/decompressed frame body to its
// mode-specific handler. It runs on the scheduler's high-priority lane (the
// parse stage), never on the Run goroutine.
func (s *Session) dispatchDecoded(mode FrameMode, plain []byte) error {
	switch mode {
	case FrameModePacket:
		return s.handlePacketFrame(plain)
	case FrameModeBinary:
		return s.handleBinaryFrame(plain)
	case FrameModeFile:
		return s.handleFileFrame(plain)
	default:
		return fmt.Errorf("%w: unknown frame mode %d", ErrFraming, mode)
	}
}

// handlePacketFrame parses an already-decoded packet-mode frame into a
// Container and routes it either to a protocol sub-handler (by message_type)
// or to the caller's OnContainer callback. Application traffic is refused on
// a session declared file_line or binary_line.
func (s *Session) handlePacketFrame(plain []byte) error {
	c := NewContainer()
	if err := c.Deserialize(string(plain)); err != nil {
		return err
	}
	switch c.Header().MessageType {
	case messageTypeHandshakeRequest, messageTypeHandshakeConfirm:
		return s.handleHandshakeContainer(c)
	case messageTypeEcho:
		return s.handleEchoContainer(c)
	case messageTypeRequestFiles:
		return s.handleRequestFiles(c)
	default:
		if s.opts.SessionType == SessionTypeBinaryLine || s.opts.SessionType == SessionTypeFileLine {
			return ErrWrongSessionType
		}
		if s.State() != HandshakeConfirmed {
			return ErrNotConfirmed
		}
		if s.onContainer != nil {
			s.onContainer(c)
		}
		return nil
	}
}

func (s *Session) handleBinaryFrame(plain []byte) error {
	if s.opts.SessionType == SessionTypeMessageLine || s.opts.SessionType == SessionTypeFileLine {
		return ErrWrongSessionType
	}
	if s.onBinary != nil {
		s.onBinary(plain)
	}
	return nil
}

// decodePipelineSync runs decrypt-then-decompress synchronously. It exists
// only for the handshake's bootstrapping reads, which happen one at a time
// before the scheduler-driven receive pipeline takes over.
func (s *Session) decodePipelineSync(payload []byte) ([]byte, error) {
	data := payload
	if s.opts.EncryptEnabled {
		plain, err := s.opts.Crypto.Decrypt(s.key, data)
		if err != nil {
			return nil, fmt.Errorf("core: decrypt: %w", err)
		}
		data = plain
	}
	if s.opts.CompressEnabled {
		plain, err := s.opts.Compressor.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("core: decompress: %w", err)
		}
		data = plain
	}
	return data, nil
}

func (s *Session) writeFrameNow(mode FrameMode, payload []byte) error {
	if err := s.frames.WriteFrame(s.conn, mode, payload); err != nil {
		return err
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.FramesSent.WithLabelValues(frameModeLabel(mode)).Inc()
	}
	return nil
}

// SendContainer runs the container through the send pipeline and enqueues it
// on the session's ordered send lane. It returns once the frame has actually
// been written, or the pipeline/write failed.
func (s *Session) SendContainer(p Priority, c *Container) error {
	if s.State() != HandshakeConfirmed {
		return ErrNotConfirmed
	}
	if s.opts.SessionType == SessionTypeBinaryLine || s.opts.SessionType == SessionTypeFileLine {
		return ErrWrongSessionType
	}
	if c.Header().SourceID == "" {
		c.SetSource(s.opts.SourceID, s.opts.SourceSubID)
	}
	text, err := c.Serialize()
	if err != nil {
		return err
	}
	return s.sendPipelined(p, FrameModePacket, []byte(text))
}

// SendBinary runs an opaque payload through the send pipeline.
func (s *Session) SendBinary(p Priority, payload []byte) error {
	if s.State() != HandshakeConfirmed {
		return ErrNotConfirmed
	}
	if s.opts.SessionType == SessionTypeMessageLine || s.opts.SessionType == SessionTypeFileLine {
		return ErrWrongSessionType
	}
	return s.sendPipelined(p, FrameModeBinary, payload)
}

// sendControlContainer bypasses the session_type/confirmed gating that
// SendContainer applies to application traffic. The handshake and echo
// sub-protocols use it, since confirm_connection and echo frames must cross
// every session type.
func (s *Session) sendControlContainer(c *Container) error {
	text, err := c.Serialize()
	if err != nil {
		return err
	}
	return s.sendPipelined(PriorityTop, FrameModePacket, []byte(text))
}

// sendPipelined runs the spec's send pipeline: a high-priority compress job
// whose continuation submits a normal-priority encrypt job, whose
// continuation submits a top-priority job that performs the actual framed
// write. seq reservation/completion goes through the ordered sender so
// frames reach the wire in Send* call order even though the pipeline stages
// for distinct calls may finish out of order.
func (s *Session) sendPipelined(p Priority, mode FrameMode, payload []byte) error {
	seq := s.sender.reserve()
	done := make(chan error, 1)

	sendStage := func(data []byte) {
		s.opts.Scheduler.Submit(PriorityTop, func() {
			done <- s.sender.complete(seq, mode, data)
		})
	}
	encryptStage := func(data []byte) {
		s.opts.Scheduler.Submit(PriorityNormal, func() {
			if !s.opts.EncryptEnabled {
				sendStage(data)
				return
			}
			sealed, err := s.opts.Crypto.Encrypt(s.key, data)
			if err != nil {
				s.sender.abort(seq)
				done <- fmt.Errorf("core: encrypt: %w", err)
				return
			}
			sendStage(sealed)
		})
	}
	compressStage := func() {
		s.opts.Scheduler.Submit(PriorityHigh, func() {
			if !s.opts.CompressEnabled {
				encryptStage(payload)
				return
			}
			packed, err := s.opts.Compressor.Compress(payload)
			if err != nil {
				s.sender.abort(seq)
				done <- fmt.Errorf("core: compress: %w", err)
				return
			}
			encryptStage(packed)
		})
	}

	_ = p // priority parameter is retained for API compatibility; the
	// pipeline's own stages run at the spec-fixed priorities above.
	compressStage()
	return <-done
}
