package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kcenon/messaging-system-go/internal/testutil"
)

func newSessionPair(t *testing.T, key string) (*Session, *Session) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	clientOpts := SessionOptions{
		ConnectionKey:   key,
		ConnectAsClient: true,
		SourceID:        "client",
	}
	serverOpts := SessionOptions{
		ConnectionKey:   key,
		ConnectAsClient: false,
		SourceID:        "server",
	}
	client := NewSession(clientConn, clientOpts, nil)
	server := NewSession(serverConn, serverOpts, nil)
	return client, server
}

func runSessions(t *testing.T, client, server *Session) (context.CancelFunc, chan struct{}, chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	clientDone := make(chan struct{})
	serverDone := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(clientDone)
	}()
	go func() {
		server.Run(ctx)
		close(serverDone)
	}()
	return cancel, clientDone, serverDone
}

func waitConfirmed(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == HandshakeConfirmed {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached confirmed state, stuck at %v", s.State())
}

func TestSessionHandshakeConfirms(t *testing.T) {
	client, server := newSessionPair(t, "shared-key")
	cancel, clientDone, serverDone := runSessions(t, client, server)
	defer cancel()
	defer func() { <-clientDone; <-serverDone }()
	defer client.Close()
	defer server.Close()

	waitConfirmed(t, client)
	waitConfirmed(t, server)
}

func TestSessionHandshakeRejectsOnKeyMismatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewSession(clientConn, SessionOptions{
		ConnectionKey: "right-key", ConnectAsClient: true, SourceID: "client",
	}, nil)
	server := NewSession(serverConn, SessionOptions{
		ConnectionKey: "wrong-key", ConnectAsClient: false, SourceID: "server",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientErrCh := make(chan error, 1)
	go func() { clientErrCh <- client.Run(ctx) }()
	go func() { server.Run(ctx) }()

	select {
	case err := <-clientErrCh:
		if err != ErrHandshakeRejected {
			t.Fatalf("expected ErrHandshakeRejected, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for handshake rejection")
	}
}

func TestSessionHandshakeRejectsSameIDAsServer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewSession(clientConn, SessionOptions{
		ConnectionKey: "shared-key", ConnectAsClient: true, SourceID: "dup",
	}, nil)
	server := NewSession(serverConn, SessionOptions{
		ConnectionKey: "shared-key", ConnectAsClient: false, SourceID: "dup",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientErrCh := make(chan error, 1)
	go func() { clientErrCh <- client.Run(ctx) }()
	go func() { server.Run(ctx) }()

	select {
	case err := <-clientErrCh:
		if err != ErrHandshakeRejected {
			t.Fatalf("expected ErrHandshakeRejected, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for handshake rejection")
	}
}

func TestSessionHandshakeNegotiatesEncryptionKey(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewSession(clientConn, SessionOptions{
		ConnectionKey: "shared-key", ConnectAsClient: true, SourceID: "client",
		EncryptEnabled: true,
	}, nil)
	server := NewSession(serverConn, SessionOptions{
		ConnectionKey: "shared-key", ConnectAsClient: false, SourceID: "server",
		EncryptEnabled: true,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)
	go server.Run(ctx)
	defer client.Close()
	defer server.Close()

	waitConfirmed(t, client)
	waitConfirmed(t, server)

	if client.key != server.key {
		t.Fatal("client and server should have converged on the same negotiated key")
	}
	if client.key == ([32]byte{}) {
		t.Fatal("negotiated key should not be all-zero")
	}
}

func TestSessionSendContainerRoundTrip(t *testing.T) {
	client, server := newSessionPair(t, "shared-key")

	received := make(chan *Container, 1)
	server.OnContainer(func(c *Container) { received <- c })

	cancel, clientDone, serverDone := runSessions(t, client, server)
	defer cancel()
	defer func() { <-clientDone; <-serverDone }()
	defer client.Close()
	defer server.Close()

	waitConfirmed(t, client)
	waitConfirmed(t, server)

	msg := NewContainer()
	msg.SetMessageType("greeting")
	msg.Add(NewString("text", "hello there"))
	if err := client.SendContainer(PriorityNormal, msg); err != nil {
		t.Fatalf("SendContainer: %v", err)
	}

	select {
	case c := <-received:
		if c.Header().MessageType != "greeting" {
			t.Fatalf("message_type = %q, want greeting", c.Header().MessageType)
		}
		if c.GetValue("text", 0).ToString() != "hello there" {
			t.Fatalf("text value mismatch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for container")
	}
}

func TestSessionSendBinaryRoundTrip(t *testing.T) {
	client, server := newSessionPair(t, "shared-key")

	received := make(chan []byte, 1)
	server.OnBinary(func(b []byte) { received <- b })

	cancel, clientDone, serverDone := runSessions(t, client, server)
	defer cancel()
	defer func() { <-clientDone; <-serverDone }()
	defer client.Close()
	defer server.Close()

	waitConfirmed(t, client)
	waitConfirmed(t, server)

	if err := client.SendBinary(PriorityHigh, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}

	select {
	case b := <-received:
		if len(b) != 4 || b[3] != 4 {
			t.Fatalf("unexpected binary payload: %v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for binary payload")
	}
}

func TestSessionSendBinaryRejectedOnMessageLineSession(t *testing.T) {
	clientConn, _ := net.Pipe()
	client := NewSession(clientConn, SessionOptions{
		ConnectionKey: "k", ConnectAsClient: true, SourceID: "client",
		SessionType: SessionTypeMessageLine,
	}, nil)
	client.setState(HandshakeConfirmed)
	if err := client.SendBinary(PriorityNormal, []byte("x")); err != ErrWrongSessionType {
		t.Fatalf("SendBinary on a message_line session = %v, want ErrWrongSessionType", err)
	}
}

func TestSessionSendContainerRejectedOnBinarySession(t *testing.T) {
	clientConn, _ := net.Pipe()
	client := NewSession(clientConn, SessionOptions{
		ConnectionKey: "k", ConnectAsClient: true, SourceID: "client",
		SessionType: SessionTypeBinaryLine,
	}, nil)
	client.setState(HandshakeConfirmed)
	if err := client.SendContainer(PriorityNormal, NewContainer()); err != ErrWrongSessionType {
		t.Fatalf("SendContainer on a binary_line session = %v, want ErrWrongSessionType", err)
	}
}

func TestSessionFileRoundTripWritesToDisk(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	original := []byte("the quick brown fox jumps over the lazy dog")
	if err := sb.WriteFile("source.bin", original, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	client, server := newSessionPair(t, "shared-key")

	notices := make(chan FileNotice, 1)
	server.OnFile(func(n FileNotice) { notices <- n })

	cancel, clientDone, serverDone := runSessions(t, client, server)
	defer cancel()
	defer func() { <-clientDone; <-serverDone }()
	defer client.Close()
	defer server.Close()

	waitConfirmed(t, client)
	waitConfirmed(t, server)

	targetPath := sb.Path("dest.bin")
	if err := client.SendFile(PriorityNormal, "xfer-1", "server", "", sb.Path("source.bin"), targetPath); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	select {
	case n := <-notices:
		if n.IndicationID != "xfer-1" {
			t.Fatalf("IndicationID = %q, want xfer-1", n.IndicationID)
		}
		if n.Err != nil {
			t.Fatalf("FileNotice.Err = %v", n.Err)
		}
		if n.SavedPath != targetPath {
			t.Fatalf("SavedPath = %q, want %q", n.SavedPath, targetPath)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file notice")
	}

	got, err := sb.ReadFile("dest.bin")
	if err != nil {
		t.Fatalf("ReadFile(dest): %v", err)
	}
	if string(got) != string(original) {
		t.Fatalf("dest.bin = %q, want %q", got, original)
	}
}

func TestSessionEchoProbeKeepsSessionConfirmed(t *testing.T) {
	client, server := newSessionPair(t, "shared-key")

	cancel, clientDone, serverDone := runSessions(t, client, server)
	defer cancel()
	defer func() { <-clientDone; <-serverDone }()
	defer client.Close()
	defer server.Close()

	waitConfirmed(t, client)
	waitConfirmed(t, server)

	probe := NewContainer()
	probe.SetMessageType(messageTypeEcho)
	probe.SetSource("client", "")
	if err := client.sendControlContainer(probe); err != nil {
		t.Fatalf("sendControlContainer: %v", err)
	}

	// The server's echo handler replies automatically; the client has no
	// OnContainer hook installed for control traffic, so this test only
	// confirms the round trip doesn't error out the session.
	time.Sleep(50 * time.Millisecond)
	if client.State() != HandshakeConfirmed {
		t.Fatalf("client session state = %v after echo round trip", client.State())
	}
}
