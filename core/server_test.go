package core

import (
	"context"
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T, key string) (addr string, srv *Server, cancel context.CancelFunc) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr = ln.Addr().String()
	_ = ln.Close() // Server.Run re-listens on the same address

	srv = NewServer(ServerOptions{
		ListenAddr:     addr,
		SessionOptions: SessionOptions{ConnectionKey: key},
	}, nil)

	ctx, cancelFn := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			if c, err := net.Dial("tcp", addr); err == nil {
				c.Close()
				close(ready)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		close(ready)
	}()
	go srv.Run(ctx)
	<-ready
	return addr, srv, cancelFn
}

func dialClientSession(t *testing.T, addr, key, sourceID string) *Session {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sess := NewSession(conn, SessionOptions{
		ConnectionKey:   key,
		ConnectAsClient: true,
		SourceID:        sourceID,
	}, nil)
	go sess.Run(context.Background())
	waitConfirmed(t, sess)
	return sess
}

func TestServerRoutesToExactPeer(t *testing.T) {
	addr, _, cancel := startTestServer(t, "server-key")
	defer cancel()

	alice := dialClientSession(t, addr, "server-key", "alice")
	defer alice.Close()
	bob := dialClientSession(t, addr, "server-key", "bob")
	defer bob.Close()

	received := make(chan *Container, 1)
	bob.OnContainer(func(c *Container) {
		if c.Header().MessageType == "direct" {
			received <- c
		}
	})

	// register bob with the server by sending one container first.
	reg := NewContainer()
	reg.SetSource("bob", "1")
	reg.SetMessageType("register")
	if err := bob.SendContainer(PriorityNormal, reg); err != nil {
		t.Fatalf("bob register send: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	msg := NewContainer()
	msg.SetSource("alice", "")
	msg.SetTarget("bob", "1")
	msg.SetMessageType("direct")
	if err := alice.SendContainer(PriorityNormal, msg); err != nil {
		t.Fatalf("alice send: %v", err)
	}

	select {
	case c := <-received:
		if c.Header().SourceID != "alice" {
			t.Fatalf("source = %q, want alice", c.Header().SourceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed container")
	}
}

func TestServerRoutesToAllSessionsSharingTargetID(t *testing.T) {
	addr, _, cancel := startTestServer(t, "server-key")
	defer cancel()

	first := dialClientSession(t, addr, "server-key", "fleet")
	defer first.Close()
	second := dialClientSession(t, addr, "server-key", "fleet")
	defer second.Close()

	firstRecv := make(chan *Container, 1)
	first.OnContainer(func(c *Container) {
		if c.Header().MessageType == "fanout" {
			firstRecv <- c
		}
	})
	secondRecv := make(chan *Container, 1)
	second.OnContainer(func(c *Container) {
		if c.Header().MessageType == "fanout" {
			secondRecv <- c
		}
	})

	for i, sess := range []*Session{first, second} {
		reg := NewContainer()
		reg.SetSource("fleet", "")
		reg.SetMessageType("register")
		if err := sess.SendContainer(PriorityNormal, reg); err != nil {
			t.Fatalf("register send %d: %v", i, err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	sender := dialClientSession(t, addr, "server-key", "sender")
	defer sender.Close()

	msg := NewContainer()
	msg.SetSource("sender", "")
	msg.SetTarget("fleet", "")
	msg.SetMessageType("fanout")
	if err := sender.SendContainer(PriorityNormal, msg); err != nil {
		t.Fatalf("sender send: %v", err)
	}

	for name, ch := range map[string]chan *Container{"first": firstRecv, "second": secondRecv} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s peer never received the target_id-only fanout", name)
		}
	}
}

func TestServerRejectsConnectionsOverSessionLimit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	srv := NewServer(ServerOptions{
		ListenAddr:        addr,
		SessionOptions:    SessionOptions{ConnectionKey: "server-key"},
		SessionLimitCount: 1,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			if c, err := net.Dial("tcp", addr); err == nil {
				c.Close()
				close(ready)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		close(ready)
	}()
	go srv.Run(ctx)
	<-ready

	first := dialClientSession(t, addr, "server-key", "one")
	defer first.Close()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	second := NewSession(conn, SessionOptions{
		ConnectionKey:   "server-key",
		ConnectAsClient: true,
		SourceID:        "two",
	}, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- second.Run(ctx) }()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("second session should have been closed once the limit was reached")
	}
}

func TestServerBroadcastHonorsSnippingTargets(t *testing.T) {
	addr, _, cancel := startTestServer(t, "server-key")
	defer cancel()

	subscribed := dialClientSession(t, addr, "server-key", "subscribed")
	defer subscribed.Close()
	unsubscribed := dialClientSession(t, addr, "server-key", "unsubscribed")
	defer unsubscribed.Close()

	subscribedRecv := make(chan *Container, 1)
	subscribed.OnContainer(func(c *Container) {
		if c.Header().MessageType == "alert" {
			subscribedRecv <- c
		}
	})
	unsubscribedRecv := make(chan *Container, 1)
	unsubscribed.OnContainer(func(c *Container) {
		if c.Header().MessageType == "alert" {
			unsubscribedRecv <- c
		}
	})

	reg := NewContainer()
	reg.SetSource("subscribed", "")
	reg.SetMessageType("register")
	reg.Add(NewString("snipping_targets", "alert"))
	if err := subscribed.SendContainer(PriorityNormal, reg); err != nil {
		t.Fatalf("subscribed register: %v", err)
	}
	regOther := NewContainer()
	regOther.SetSource("unsubscribed", "")
	regOther.SetMessageType("register")
	regOther.Add(NewString("snipping_targets", "weather"))
	if err := unsubscribed.SendContainer(PriorityNormal, regOther); err != nil {
		t.Fatalf("unsubscribed register: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	sender := dialClientSession(t, addr, "server-key", "sender")
	defer sender.Close()

	broadcast := NewContainer()
	broadcast.SetSource("sender", "")
	broadcast.SetMessageType("alert")
	if err := sender.SendContainer(PriorityNormal, broadcast); err != nil {
		t.Fatalf("broadcast send: %v", err)
	}

	select {
	case <-subscribedRecv:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed peer never received the alert broadcast")
	}

	select {
	case <-unsubscribedRecv:
		t.Fatal("unsubscribed peer should not have received the alert broadcast")
	case <-time.After(200 * time.Millisecond):
	}
}
