package core

import (
	"context"
	"fmt"
	"time"
)

const (
	messageTypeHandshakeRequest = "request_connection"
	messageTypeHandshakeConfirm = "confirm_connection"
)

// handshake drives the fresh -> sent_request -> confirmed|rejected state
// machine. The client side sends a request carrying the connection key and
// waits for a confirm_connection reply; the server side waits for a request,
// validates it, and replies after generating fresh key material when
// encryption is on.
func (s *Session) handshake(ctx context.Context) error {
	if s.opts.ConnectAsClient {
		return s.handshakeAsClient(ctx)
	}
	return s.handshakeAsServer(ctx)
}

func (s *Session) handshakeAsClient(ctx context.Context) error {
	req := NewContainer()
	req.SetMessageType(messageTypeHandshakeRequest)
	req.SetSource(s.opts.SourceID, s.opts.SourceSubID)
	req.Add(NewString("connection_key", s.opts.ConnectionKey))
	req.Add(NewBool("auto_echo", s.opts.AutoEchoInterval > 0))
	req.Add(NewUShort("auto_echo_interval_seconds", uint16(s.opts.AutoEchoInterval/time.Second)))
	req.Add(NewShort("session_type", s.opts.SessionType.wireCode()))
	req.Add(NewBool("bridge_mode", s.opts.BridgeMode))
	targets := NewContainerValue("snipping_targets")
	for i, t := range s.opts.SnippingTargets {
		targets.AddChild(NewString(fmt.Sprintf("%d", i), t))
	}
	req.Add(targets)
	s.setState(HandshakeSentRequest)

	text, err := req.Serialize()
	if err != nil {
		return err
	}
	if err := s.writeFrameNow(FrameModePacket, []byte(text)); err != nil {
		return err
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
		if mode != FrameModePacket {
			continue
		}
		plain, err := s.decodePipelineSync(payload)
		if err != nil {
			return err
		}
		c := NewContainer()
		if err := c.Deserialize(string(plain)); err != nil {
			return err
		}
		if c.Header().MessageType != messageTypeHandshakeConfirm {
			continue
		}
		if !c.GetValue("confirm", 0).ToBool() {
			s.setState(HandshakeRejected)
			s.notifyConnectionChange(false)
			return ErrHandshakeRejected
		}
		if s.opts.EncryptEnabled {
			s.key = bytesToKey(c.GetValue("key", 0).ToBytes())
			s.iv = bytesToIV(c.GetValue("iv", 0).ToBytes())
		}
		s.setState(HandshakeConfirmed)
		s.notifyConnectionChange(true)
		return nil
	}
}

func (s *Session) handshakeAsServer(ctx context.Context) error {
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
		if mode != FrameModePacket {
			continue
		}
		plain, err := s.decodePipelineSync(payload)
		if err != nil {
			return err
		}
		c := NewContainer()
		if err := c.Deserialize(string(plain)); err != nil {
			return err
		}
		if c.Header().MessageType != messageTypeHandshakeRequest {
			continue
		}

		peerKey := c.GetValue("connection_key", 0).ToString()
		sourceID := c.Header().SourceID

		reply := NewContainer()
		reply.SetMessageType(messageTypeHandshakeConfirm)
		reply.SetSource(s.opts.SourceID, s.opts.SourceSubID)
		reply.SetTarget(sourceID, c.Header().SourceSubID)

		var rejectReason string
		switch {
		case peerKey != s.opts.ConnectionKey:
			rejectReason = "unknown connection key"
		case sourceID != "" && sourceID == s.opts.SourceID:
			rejectReason = "cannot use same id with server"
		}

		if rejectReason != "" {
			reply.Add(NewBool("confirm", false))
			reply.Add(NewString("reason", rejectReason))
			text, err := reply.Serialize()
			if err != nil {
				return err
			}
			if err := s.writeFrameNow(FrameModePacket, []byte(text)); err != nil {
				return err
			}
			if s.opts.Metrics != nil {
				s.opts.Metrics.HandshakeRejects.Inc()
			}
			s.setState(HandshakeRejected)
			s.notifyConnectionChange(false)
			return ErrHandshakeRejected
		}

		reply.Add(NewBool("confirm", true))
		reply.Add(NewBool("encrypt_mode", s.opts.EncryptEnabled))
		if s.opts.EncryptEnabled {
			key, iv, err := s.opts.Crypto.NewSessionKey()
			if err != nil {
				return err
			}
			s.key = key
			s.iv = iv
			reply.Add(NewBytes("key", key[:]))
			reply.Add(NewBytes("iv", iv[:]))
		}
		snippingEcho := NewContainerValue("snipping_targets")
		for _, v := range c.GetValue("snipping_targets", 0).Children() {
			snippingEcho.AddChild(NewString(v.Name(), v.ToString()))
		}
		reply.Add(snippingEcho)

		text, err := reply.Serialize()
		if err != nil {
			return err
		}
		if err := s.writeFrameNow(FrameModePacket, []byte(text)); err != nil {
			return err
		}

		s.setState(HandshakeConfirmed)
		s.notifyConnectionChange(true)
		return nil
	}
}

// handleHandshakeContainer deals with a handshake message arriving after
// the handshake phase has already completed; a correct peer never sends
// one, so this only logs and drops it.
func (s *Session) handleHandshakeContainer(c *Container) error {
	s.log.WithField("message_type", c.Header().MessageType).
		Debug("ignoring late handshake message")
	return fmt.Errorf("core: unexpected handshake message after handshake completed")
}

func (s *Session) notifyConnectionChange(confirmed bool) {
	if s.onConnectionChange != nil {
		s.onConnectionChange(confirmed)
	}
}

func bytesToKey(b []byte) [32]byte {
	var key [32]byte
	copy(key[:], b)
	return key
}

func bytesToIV(b []byte) [24]byte {
	var iv [24]byte
	copy(iv[:], b)
	return iv
}
