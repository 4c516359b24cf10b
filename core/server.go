package core

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// peerKey identifies a registered Session by the routing identity it
// presented in its handshake/source header.
type peerKey struct {
	id    string
	subID string
}

// snippingTargetsValue is the well-known value name a peer uses to declare
// which message types it wants delivered on broadcast. A peer with no such
// value (or an empty one) receives every broadcast, matching the original
// "subscribe to everything by default" behavior.
const snippingTargetsValue = "snipping_targets"

// peerInfo pairs a registered Session with the broadcast tags of the most
// recent container it sent; a container without snipping_targets resets
// them to "receive everything".
type peerInfo struct {
	sess    *Session
	targets []string
}

// wantsBroadcast reports whether a peer subscribed to messageType should
// receive it. An empty target list means "receive everything".
func (p peerInfo) wantsBroadcast(messageType string) bool {
	if len(p.targets) == 0 {
		return true
	}
	for _, t := range p.targets {
		if t == messageType {
			return true
		}
	}
	return false
}

func parseSnippingTargets(c *Container) []string {
	v := c.GetValue(snippingTargetsValue, 0)
	if v == nil {
		return nil
	}
	raw := strings.TrimSpace(v.ToString())
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	targets := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			targets = append(targets, p)
		}
	}
	return targets
}

// ServerOptions configures a Server's listener and the SessionOptions
// template applied to every accepted connection (ConnectAsClient is forced
// false regardless of what's passed in).
type ServerOptions struct {
	ListenAddr     string
	SessionOptions SessionOptions

	// SessionLimitCount caps the number of concurrently open accepted
	// connections. Zero means unlimited. Connections arriving once the limit is reached
	// are accepted at the TCP level but closed before the handshake can
	// confirm.
	SessionLimitCount int
}

// Server accepts TCP connections, runs each through the session handshake,
// and routes received containers to their (target_id, target_sub_id) peer,
// to every peer with that target_id when target_sub_id is empty, or to all
// peers as a broadcast when target_id is empty. A container whose target
// matches no registered peer is dropped.
type Server struct {
	opts ServerOptions
	log  *logrus.Entry

	mu       sync.RWMutex
	peers    map[peerKey]peerInfo
	sessions int

	ln net.Listener
}

// NewServer builds a Server; it does not start listening until Run is
// called.
func NewServer(opts ServerOptions, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		opts:  opts,
		log:   log.WithField("component", "server"),
		peers: make(map[peerKey]peerInfo),
	}
}

// Run listens and accepts connections until ctx is canceled or the listener
// fails.
func (srv *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", srv.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrIoFailed, srv.opts.ListenAddr, err)
	}
	srv.ln = ln
	srv.log.WithField("addr", ln.Addr().String()).Info("server listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

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
		go srv.handleConn(ctx, conn)
	}
}

func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	if !srv.acquireSlot() {
		srv.log.WithField("remote", conn.RemoteAddr().String()).
			Warn("rejecting connection: session_limit_count reached")
		_ = conn.Close()
		return
	}
	defer srv.releaseSlot()

	opts := srv.opts.SessionOptions
	opts.ConnectAsClient = false
	sess := NewSession(conn, opts, srv.log)

	var key peerKey
	sess.OnConnectionChange(func(confirmed bool) {
		if !confirmed {
			_ = conn.Close()
			return
		}
	})
	sess.OnContainer(func(c *Container) {
		h := c.Header()
		key = peerKey{id: h.SourceID, subID: h.SourceSubID}
		srv.register(key, sess, parseSnippingTargets(c))
		srv.route(c)
	})

	defer func() {
		srv.unregister(key, sess)
		_ = conn.Close()
	}()

	if err := sess.Run(ctx); err != nil {
		srv.log.WithError(err).WithField("remote", conn.RemoteAddr().String()).
			Debug("session ended")
	}
}

// acquireSlot reserves one of SessionLimitCount concurrent session slots.
// A limit of zero means unlimited.
func (srv *Server) acquireSlot() bool {
	if srv.opts.SessionLimitCount <= 0 {
		return true
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.sessions >= srv.opts.SessionLimitCount {
		return false
	}
	srv.sessions++
	return true
}

func (srv *Server) releaseSlot() {
	if srv.opts.SessionLimitCount <= 0 {
		return
	}
	srv.mu.Lock()
	srv.sessions--
	srv.mu.Unlock()
}

func (srv *Server) register(key peerKey, sess *Session, targets []string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.peers[key] = peerInfo{sess: sess, targets: targets}
}

func (srv *Server) unregister(key peerKey, sess *Session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if cur, ok := srv.peers[key]; ok && cur.sess == sess {
		delete(srv.peers, key)
	}
}

// route delivers c per the header's addressing:
//   - target_id empty: broadcast to every confirmed peer.
//   - target_id set, target_sub_id empty: send to every peer sharing that
//     target_id.
//   - both set: send to the unique (target_id, target_sub_id) peer.
func (srv *Server) route(c *Container) {
	h := c.Header()
	if h.TargetID == "" {
		srv.broadcast(c)
		return
	}
	if h.TargetSubID == "" {
		srv.routeToTargetID(c, h.TargetID)
		return
	}

	target := peerKey{id: h.TargetID, subID: h.TargetSubID}
	srv.mu.RLock()
	dest, ok := srv.peers[target]
	srv.mu.RUnlock()
	if !ok {
		srv.log.WithField("target_id", h.TargetID).WithField("target_sub_id", h.TargetSubID).
			Warn("routed send dropped: no matching peer")
		return
	}
	if err := dest.sess.SendContainer(PriorityNormal, c); err != nil {
		srv.log.WithError(err).Warn("routed send failed")
	}
}

// routeToTargetID sends c to every registered peer whose target_id matches,
// regardless of their target_sub_id.
func (srv *Server) routeToTargetID(c *Container, targetID string) {
	srv.mu.RLock()
	matches := make([]*Session, 0, 1)
	for key, info := range srv.peers {
		if key.id == targetID {
			matches = append(matches, info.sess)
		}
	}
	srv.mu.RUnlock()

	for _, sess := range matches {
		if err := sess.SendContainer(PriorityNormal, c); err != nil {
			srv.log.WithError(err).Warn("routed send failed")
		}
	}
}

// broadcast sends c to every registered peer except the one whose identity
// matches the container's own source (so a sender never echoes to itself),
// filtered by each peer's declared snipping_targets.
func (srv *Server) broadcast(c *Container) {
	h := c.Header()
	source := peerKey{id: h.SourceID, subID: h.SourceSubID}

	srv.mu.RLock()
	targets := make([]*Session, 0, len(srv.peers))
	for key, info := range srv.peers {
		if key == source {
			continue
		}
		if !info.wantsBroadcast(h.MessageType) {
			continue
		}
		targets = append(targets, info.sess)
	}
	srv.mu.RUnlock()

	if srv.opts.SessionOptions.Metrics != nil && len(targets) > 0 {
		srv.opts.SessionOptions.Metrics.BroadcastSends.Inc()
	}
	for _, sess := range targets {
		if err := sess.SendContainer(PriorityNormal, c); err != nil {
			srv.log.WithError(err).Warn("broadcast send failed")
		}
	}
}

// PeerCount returns the number of currently registered peers.
func (srv *Server) PeerCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.peers)
}
