package core

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	messageTypeDownloadFiles = "download_files"
	messageTypeUploadFiles   = "upload_files"
)

// BridgeOptions configures a Bridge's three ports: the downstream listener
// local clients dial into, and the two upstream client sessions (data_line,
// file_line) it maintains against the real messaging node.
type BridgeOptions struct {
	DownstreamAddr string
	DataLineAddr   string
	FileLineAddr   string
	SessionOptions SessionOptions

	Dialer *Dialer

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// ApplyDefaults fills in Dialer/backoff bounds left unset.
func (o *BridgeOptions) ApplyDefaults() {
	if o.Dialer == nil {
		o.Dialer = NewDialer(5*time.Second, 30*time.Second)
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
}

// Bridge is the middle-tier between local clients and the real messaging
// node. It holds three ports: a downstream server for local clients, and
// two upstream client sessions, data_line for ordinary traffic and
// file_line dedicated to file transfers. Downstream messages whose
// message_type is in its handler table are serviced locally; everything
// else is forwarded upstream on data_line. Upstream messages are relayed to
// the originally addressed downstream peer, except uploaded_file acks,
// which are intercepted to drive the file manager.
type Bridge struct {
	opts BridgeOptions
	log  *logrus.Entry
	files *FileManager

	mu              sync.RWMutex
	downstreamPeers map[peerKey]*Session
	pending         map[string]peerKey // indication_id -> requesting downstream peer

	lineMu   sync.RWMutex
	dataLine *Session
	fileLine *Session

	ln net.Listener
}

// NewBridge builds a Bridge; it does not dial or listen until Run is
// called.
func NewBridge(opts BridgeOptions, log *logrus.Entry) *Bridge {
	opts.ApplyDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{
		opts:            opts,
		log:             log.WithField("component", "bridge"),
		files:           NewFileManager(),
		downstreamPeers: make(map[peerKey]*Session),
		pending:         make(map[string]peerKey),
	}
}

// Run starts the downstream listener and both upstream reconnect loops,
// blocking until ctx is canceled or the downstream listener fails.
func (b *Bridge) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.opts.DownstreamAddr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrIoFailed, b.opts.DownstreamAddr, err)
	}
	b.ln = ln
	b.log.WithField("addr", ln.Addr().String()).Info("bridge downstream listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	errCh := make(chan error, 3)
	go func() { errCh <- b.runUpstreamLine(ctx, b.opts.DataLineAddr, b.assignDataLine) }()
	go func() { errCh <- b.runUpstreamLine(ctx, b.opts.FileLineAddr, b.assignFileLine) }()
	go func() { errCh <- b.acceptDownstream(ctx, ln) }()

	return <-errCh
}

func (b *Bridge) acceptDownstream(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("%w: accept: %v", ErrIoFailed, err)
			}
		}
		go b.handleDownstreamConn(ctx, conn)
	}
}

func (b *Bridge) handleDownstreamConn(ctx context.Context, conn net.Conn) {
	opts := b.opts.SessionOptions
	opts.ConnectAsClient = false
	sess := NewSession(conn, opts, b.log)

	var key peerKey
	sess.OnContainer(func(c *Container) {
		h := c.Header()
		key = peerKey{id: h.SourceID, subID: h.SourceSubID}
		b.registerDownstream(key, sess)
		b.dispatchDownstream(sess, key, c)
	})

	defer func() {
		b.unregisterDownstream(key, sess)
		_ = conn.Close()
	}()

	if err := sess.Run(ctx); err != nil {
		b.log.WithError(err).Debug("downstream session ended")
	}
}

// dispatchDownstream services download_files/upload_files locally; every
// other downstream message is forwarded upstream on data_line unchanged.
func (b *Bridge) dispatchDownstream(from *Session, key peerKey, c *Container) {
	switch c.Header().MessageType {
	case messageTypeDownloadFiles:
		b.handleDownloadFiles(key, c)
	case messageTypeUploadFiles:
		b.handleUploadFiles(key, c)
	default:
		b.forwardUpstream(from, c)
	}
}

// forwardUpstream relays a downstream container to data_line. If data_line
// has no confirmed upstream connection, it synthesizes an error reply
// instead of forwarding.
func (b *Bridge) forwardUpstream(from *Session, c *Container) {
	line := b.getDataLine()
	if line == nil || line.State() != HandshakeConfirmed {
		b.replyUpstreamUnavailable(from, c)
		return
	}
	if err := line.sendControlContainer(c); err != nil {
		b.log.WithError(err).Warn("forward to data_line failed")
	}
}

func (b *Bridge) replyUpstreamUnavailable(from *Session, c *Container) {
	reply := c.Copy(true)
	reply.SwapHeader()
	reply.Add(NewBool("error", true))
	reply.Add(NewString("reason", "main_server has not been connected."))
	if err := from.sendControlContainer(reply); err != nil {
		b.log.WithError(err).Warn("failed to reply upstream-unavailable")
	}
}

// handleDownloadFiles asks file_line to pull the requested (source_path,
// target_path) pairs from upstream and remembers which downstream peer is
// waiting on indication_id so the eventual transfer_condition can reach it.
func (b *Bridge) handleDownloadFiles(requester peerKey, c *Container) {
	indicationID := c.GetValue("indication_id", 0).ToString()
	pairs, targetPaths := filePairs(c)

	b.files.Expect(indicationID, targetPaths)
	b.trackPending(indicationID, requester)

	line := b.getFileLine()
	if line == nil || line.State() != HandshakeConfirmed {
		b.log.Warn("download_files dropped: file_line not connected")
		return
	}
	if err := line.RequestFiles(indicationID, pairs); err != nil {
		b.log.WithError(err).Warn("download_files: request_files failed")
	}
}

// handleUploadFiles pushes the requested (source_path, target_path) pairs
// to upstream over file_line, one file-mode frame per pair.
func (b *Bridge) handleUploadFiles(requester peerKey, c *Container) {
	indicationID := c.GetValue("indication_id", 0).ToString()
	pairs, targetPaths := filePairs(c)

	b.files.Expect(indicationID, targetPaths)
	b.trackPending(indicationID, requester)

	line := b.getFileLine()
	if line == nil || line.State() != HandshakeConfirmed {
		b.log.Warn("upload_files dropped: file_line not connected")
		return
	}
	for _, pair := range pairs {
		if err := line.SendFile(PriorityNormal, indicationID, "", "", pair[0], pair[1]); err != nil {
			b.log.WithError(err).Warn("upload_files: send_file failed")
		}
	}
}

func filePairs(c *Container) (pairs [][2]string, targetPaths []string) {
	sources := c.ValueArray("source_path")
	targets := c.ValueArray("target_path")
	n := len(sources)
	if len(targets) < n {
		n = len(targets)
	}
	pairs = make([][2]string, 0, n)
	targetPaths = make([]string, 0, n)
	for i := 0; i < n; i++ {
		src := sources[i].ToString()
		dst := targets[i].ToString()
		pairs = append(pairs, [2]string{src, dst})
		targetPaths = append(targetPaths, dst)
	}
	return pairs, targetPaths
}

// handleUpstreamContainer is the OnContainer callback shared by both
// upstream sessions: uploaded_file acks update the file manager, anything
// else is relayed to the downstream peer it was originally addressed to.
func (b *Bridge) handleUpstreamContainer(c *Container) {
	if c.Header().MessageType == messageTypeUploadedFile {
		b.onUploadedFile(c)
		return
	}
	b.forwardDownstream(c)
}

func (b *Bridge) onUploadedFile(c *Container) {
	indicationID := c.GetValue("indication_id", 0).ToString()
	savedPath := c.GetValue("saved_path", 0).ToString()

	var cond *Container
	if savedPath == "" {
		cond = b.files.Failed(indicationID, c.GetValue("target_path", 0).ToString())
	} else {
		cond = b.files.Received(indicationID, savedPath)
	}
	if cond == nil {
		return
	}

	dest, ok := b.pendingPeer(indicationID)
	if !ok {
		b.log.WithField("indication_id", indicationID).Warn("transfer_condition has no pending downstream peer")
		return
	}
	b.mu.RLock()
	sess, ok := b.downstreamPeers[dest]
	b.mu.RUnlock()
	if ok {
		if err := sess.sendControlContainer(cond); err != nil {
			b.log.WithError(err).Warn("failed to deliver transfer_condition downstream")
		}
	}
	if cond.GetValue("completed", 0).ToBool() {
		b.clearPending(indicationID)
	}
}

func (b *Bridge) forwardDownstream(c *Container) {
	h := c.Header()
	key := peerKey{id: h.TargetID, subID: h.TargetSubID}
	b.mu.RLock()
	sess, ok := b.downstreamPeers[key]
	b.mu.RUnlock()
	if !ok {
		b.log.WithField("target_id", h.TargetID).Warn("upstream message dropped: no matching downstream peer")
		return
	}
	if err := sess.sendControlContainer(c); err != nil {
		b.log.WithError(err).Warn("forward downstream failed")
	}
}

func (b *Bridge) registerDownstream(key peerKey, sess *Session) {
	b.mu.Lock()
	b.downstreamPeers[key] = sess
	b.mu.Unlock()
}

func (b *Bridge) unregisterDownstream(key peerKey, sess *Session) {
	b.mu.Lock()
	if cur, ok := b.downstreamPeers[key]; ok && cur == sess {
		delete(b.downstreamPeers, key)
	}
	b.mu.Unlock()
}

func (b *Bridge) trackPending(indicationID string, key peerKey) {
	b.mu.Lock()
	b.pending[indicationID] = key
	b.mu.Unlock()
}

func (b *Bridge) pendingPeer(indicationID string) (peerKey, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key, ok := b.pending[indicationID]
	return key, ok
}

func (b *Bridge) clearPending(indicationID string) {
	b.mu.Lock()
	delete(b.pending, indicationID)
	b.mu.Unlock()
}

func (b *Bridge) getDataLine() *Session {
	b.lineMu.RLock()
	defer b.lineMu.RUnlock()
	return b.dataLine
}

func (b *Bridge) getFileLine() *Session {
	b.lineMu.RLock()
	defer b.lineMu.RUnlock()
	return b.fileLine
}

func (b *Bridge) assignDataLine(s *Session) {
	b.lineMu.Lock()
	b.dataLine = s
	b.lineMu.Unlock()
}

func (b *Bridge) assignFileLine(s *Session) {
	b.lineMu.Lock()
	b.fileLine = s
	b.lineMu.Unlock()
}

// runUpstreamLine dials addr and runs a session against it, reconnecting
// with exponential backoff (bounded by MinBackoff/MaxBackoff) whenever the
// session ends, until ctx is canceled. assign is called with the live
// session while connected and with nil while disconnected.
func (b *Bridge) runUpstreamLine(ctx context.Context, addr string, assign func(*Session)) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := b.opts.Dialer.Dial(ctx, addr)
		if err != nil {
			attempt++
			wait := b.backoff(attempt)
			b.log.WithError(err).WithField("addr", addr).WithField("retry_in", wait).Warn("upstream dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		opts := b.opts.SessionOptions
		opts.ConnectAsClient = true
		sess := NewSession(conn, opts, b.log)
		sess.OnContainer(b.handleUpstreamContainer)

		assign(sess)
		err = sess.Run(ctx)
		assign(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.WithError(err).WithField("addr", addr).Info("upstream session ended, reconnecting")
	}
}

// backoff returns an exponentially growing delay capped at MaxBackoff,
// indexed from attempt 1.
func (b *Bridge) backoff(attempt int) time.Duration {
	d := float64(b.opts.MinBackoff) * math.Pow(2, float64(attempt-1))
	if d > float64(b.opts.MaxBackoff) {
		d = float64(b.opts.MaxBackoff)
	}
	return time.Duration(d)
}

// DataLineConnected reports whether data_line currently has a confirmed
// upstream session.
func (b *Bridge) DataLineConnected() bool {
	line := b.getDataLine()
	return line != nil && line.State() == HandshakeConfirmed
}

// FileLineConnected reports whether file_line currently has a confirmed
// upstream session.
func (b *Bridge) FileLineConnected() bool {
	line := b.getFileLine()
	return line != nil && line.State() == HandshakeConfirmed
}
