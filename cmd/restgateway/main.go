// Command restgateway is a thin HTTP-to-container adapter: external callers
// POST JSON, the gateway builds a Container from it and forwards it over a
// single long-lived Session to a messaging node, with no protocol logic of
// its own beyond that translation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kcenon/messaging-system-go/core"
	"github.com/kcenon/messaging-system-go/pkg/config"
)

type gateway struct {
	sess *core.Session
	log  *logrus.Entry
}

type sendRequest struct {
	TargetID    string            `json:"target_id"`
	TargetSubID string            `json:"target_sub_id"`
	MessageType string            `json:"message_type"`
	Values      map[string]string `json:"values"`
}

func (g *gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request body: %v", err), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()

	c := core.NewContainer()
	c.SetTarget(req.TargetID, req.TargetSubID)
	if req.MessageType != "" {
		c.SetMessageType(req.MessageType)
	}
	c.Add(core.NewString("request_id", requestID))
	for name, value := range req.Values {
		c.Add(core.NewString(name, value))
	}

	if err := g.sess.SendContainer(core.PriorityNormal, c); err != nil {
		http.Error(w, fmt.Sprintf("send failed: %v", err), http.StatusBadGateway)
		return
	}
	g.log.WithField("request_id", requestID).Info("forwarded send request")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(http.StatusAccepted)
}

func (g *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if g.sess.State() != core.HandshakeConfirmed {
		http.Error(w, "upstream session not confirmed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "restgateway: loading config:", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := log.WithField("component", "restgateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := net.Dial("tcp", cfg.Messaging.ListenAddr)
	if err != nil {
		entry.WithError(err).Fatal("dialing messaging node")
	}

	opts := core.SessionOptions{
		ConnectionKey:   cfg.Messaging.ConnectionKey,
		ConnectAsClient: true,
		CompressEnabled: cfg.Messaging.CompressEnabled,
		EncryptEnabled:  cfg.Messaging.EncryptEnabled,
	}
	sess := core.NewSession(conn, opts, entry)
	go func() {
		if err := sess.Run(ctx); err != nil {
			entry.WithError(err).Warn("upstream session ended")
		}
	}()

	g := &gateway{sess: sess, log: entry}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Post("/v1/send", g.handleSend)
	r.Get("/healthz", g.handleHealth)

	addr := ":8081"
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	entry.WithField("addr", addr).Info("rest gateway listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		entry.WithError(err).Fatal("gateway server stopped")
	}
}
