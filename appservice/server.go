// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package appservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/crosswire-im/crosswire/matrix"
)

const (
	// maxTransactionSize caps a transaction body. Homeservers batch
	// events but stay well under this.
	maxTransactionSize = 10 << 20

	// transactionHistory is how many processed transaction IDs the
	// dedup log remembers. Homeserver retries arrive promptly, so a
	// short window suffices.
	transactionHistory = 128
)

// ServerConfig configures the appservice HTTP listener.
type ServerConfig struct {
	// Port is the TCP port to listen on. Zero picks an ephemeral
	// port (tests).
	Port int

	// Registration supplies the hs_token that authenticates inbound
	// homeserver calls.
	Registration *Registration

	// Sink receives every dispatched event and query.
	Sink EventSink

	// RoomCreator materializes rooms for provisioned aliases.
	RoomCreator RoomCreator

	// Logger for server lifecycle and dispatch accounting. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP listener the homeserver pushes transactions and
// queries to. Create with NewServer, bind with Start, release with
// Stop.
type Server struct {
	config ServerConfig

	txns   *txnLog
	queues *roomQueues

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// NewServer validates the configuration and builds an unstarted
// server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Registration == nil {
		return nil, errors.New("appservice: Registration is required")
	}
	if config.Sink == nil {
		return nil, errors.New("appservice: Sink is required")
	}
	if config.RoomCreator == nil {
		return nil, errors.New("appservice: RoomCreator is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		config: config,
		txns:   newTxnLog(transactionHistory),
		queues: newRoomQueues(config.Sink, config.Logger),
	}, nil
}

// Start binds the listener and begins serving. It returns once the
// port is bound; request handling runs on background goroutines.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("appservice: server already started")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("binding appservice listener: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.config.Logger.Info("appservice listener started", "address", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.config.Logger.Error("appservice listener error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight requests, closes the listener, and waits for
// the per-room queues to finish their queued events.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		err = httpServer.Shutdown(ctx)
	}
	s.queues.Close()
	if err != nil {
		return fmt.Errorf("stopping appservice listener: %w", err)
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /_matrix/app/v1/transactions/{txnID}", s.authenticated(s.handleTransaction))
	mux.HandleFunc("GET /_matrix/app/v1/rooms/{alias}", s.authenticated(s.handleRoomAlias))
	mux.HandleFunc("GET /_matrix/app/v1/users/{userID}", s.authenticated(s.handleUser))
	mux.HandleFunc("GET /_matrix/app/v1/thirdparty/protocol/{protocol}", s.authenticated(s.handleProtocol))
	mux.HandleFunc("POST /_matrix/app/v1/ping", s.authenticated(s.handlePing))
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// authenticated verifies the homeserver's hs_token before invoking
// next. The token arrives as a Bearer header or, from older
// homeservers, an access_token query parameter. A missing token is
// 401, a wrong one 403.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, matrix.ErrCodeMissingToken, "missing access token")
			return
		}
		if token != s.config.Registration.HSToken {
			s.writeError(w, http.StatusForbidden, matrix.ErrCodeUnknownToken, "incorrect access token")
			return
		}
		next(w, r)
	}
}

func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return ""
		}
		return token
	}
	return r.URL.Query().Get("access_token")
}

// transaction is the body of a transaction push.
type transaction struct {
	Events []Event `json:"events"`
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := r.PathValue("txnID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTransactionSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, matrix.ErrCodeUnknown, "reading transaction body failed")
		return
	}
	var txn transaction
	if err := json.Unmarshal(body, &txn); err != nil {
		s.writeError(w, http.StatusBadRequest, matrix.ErrCodeNotJSON, "transaction body is not valid JSON")
		return
	}

	if s.txns.Seen(txnID) {
		// The homeserver retries a transaction until it sees 200.
		// Acknowledge the retry without dispatching twice.
		s.config.Logger.Debug("duplicate transaction acknowledged", "txn_id", txnID)
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	// The transaction is recorded only after every event is queued.
	// A failed enqueue returns 500, the homeserver retries, and the
	// events already queued may dispatch twice: delivery here is
	// at-least-once.
	for _, event := range txn.Events {
		if err := s.queues.Enqueue(r.Context(), NewRequest(event)); err != nil {
			s.config.Logger.Warn("transaction enqueue failed",
				"txn_id", txnID, "error", err)
			s.writeError(w, http.StatusInternalServerError, matrix.ErrCodeUnknown, "event queue unavailable")
			return
		}
	}
	s.txns.Record(txnID)
	s.config.Sink.Log(fmt.Sprintf("transaction %s: queued %d events", txnID, len(txn.Events)), false)

	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleRoomAlias(w http.ResponseWriter, r *http.Request) {
	alias, err := matrix.ParseRoomAlias(r.PathValue("alias"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, matrix.ErrCodeInvalidParam, err.Error())
		return
	}

	provision := s.config.Sink.AliasQuery(r.Context(), alias)
	if provision == nil {
		s.writeError(w, http.StatusNotFound, matrix.ErrCodeNotFound, "alias not served by this bridge")
		return
	}

	roomID, err := s.config.RoomCreator.CreateRoom(r.Context(), matrix.CreateRoomRequest{
		AliasLocalpart:  alias.Localpart(),
		Name:            provision.Name,
		Topic:           provision.Topic,
		CreationContent: provision.CreationContent,
	})
	if err != nil {
		s.config.Logger.Error("creating room for queried alias",
			"alias", alias.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, matrix.ErrCodeUnknown, "room creation failed")
		return
	}

	s.config.Sink.AliasQueried(r.Context(), alias, roomID)
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	userID, err := matrix.ParseUserID(r.PathValue("userID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, matrix.ErrCodeInvalidParam, err.Error())
		return
	}

	if s.config.Sink.UserQuery(r.Context(), userID) == nil {
		s.writeError(w, http.StatusNotFound, matrix.ErrCodeNotFound, "user not served by this bridge")
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	descriptor := s.config.Sink.ThirdPartyLookup(r.Context(), r.PathValue("protocol"))
	if descriptor == nil {
		s.writeError(w, http.StatusNotFound, matrix.ErrCodeNotFound, "unknown protocol")
		return
	}
	s.writeJSON(w, http.StatusOK, descriptor)
}

// handlePing answers the MSC2659 liveness check the homeserver issues
// when an admin triggers a connectivity test.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
	s.writeJSON(w, http.StatusOK, struct{}{})
}

// handleHealth is the unauthenticated ops probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.config.Logger.Debug("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, matrix.Error{Code: code, Message: message})
}

// txnLog remembers recently processed transaction IDs so homeserver
// retries are acknowledged without re-dispatching their events.
type txnLog struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newTxnLog(limit int) *txnLog {
	return &txnLog{
		seen:  make(map[string]struct{}, limit),
		limit: limit,
	}
}

// Seen reports whether the transaction ID was already recorded.
func (l *txnLog) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// Record marks the transaction processed, evicting the oldest entry
// once the window is full.
func (l *txnLog) Record(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.order) > l.limit {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
}
