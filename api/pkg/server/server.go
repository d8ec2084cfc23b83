// Package server exposes Mercy's scanner over the HTTP admin surface
// described in spec §6, using gorilla/mux the way the teacher's hydra
// server does, plus a status-stream websocket endpoint (a supplemented
// feature: operators watching a long scan don't want to poll /status).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ijohanne/mercy/api/pkg/scanner"
)

// Server is Mercy's HTTP admin surface, wrapping a *scanner.Scanner.
type Server struct {
	sc         *scanner.Scanner
	authToken  string
	httpServer *http.Server
	hub        *statusHub
}

// New builds a Server bound to sc, requiring authToken on every request.
func New(sc *scanner.Scanner, authToken, listenAddr string) *Server {
	s := &Server{sc: sc, authToken: authToken, hub: newStatusHub()}

	router := mux.NewRouter()
	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}
	return s
}

// Start begins serving in the background. It returns immediately; errors
// from Serve are logged, matching the teacher's fire-and-forget listener
// goroutine in its own Server.Start.
func (s *Server) Start() {
	go s.hub.run()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()
	log.Info().Str("addr", s.httpServer.Addr).Msg("mercy admin server started")
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(router *mux.Router) {
	router.Use(s.authMiddleware)

	router.HandleFunc("/prepare", s.handlePrepare).Methods(http.MethodPost)
	router.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	router.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost)
	router.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	router.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	router.HandleFunc("/exchanges", s.handleExchanges).Methods(http.MethodGet)
	router.HandleFunc("/exchanges/{index}/screenshot", s.handleExchangeScreenshot).Methods(http.MethodGet)
	router.HandleFunc("/screenshot", s.handleScreenshot).Methods(http.MethodGet)
	router.HandleFunc("/goto", s.handleGoto).Methods(http.MethodGet)
	router.HandleFunc("/scan-kingdom", s.handleScanKingdom).Methods(http.MethodPost)
	router.HandleFunc("/detect", s.handleDetect).Methods(http.MethodGet)
}

// authMiddleware enforces the Bearer-token contract from §6: every endpoint
// requires Authorization: Bearer <token>, mismatch yields 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "Bearer " + s.authToken
		if r.Header.Get("Authorization") != want {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeIllegalOrError maps a scanner.ErrIllegalTransition to 409 and
// anything else to 500, per §7's API error taxonomy.
func writeIllegalOrError(w http.ResponseWriter, err error) {
	var illegal *scanner.ErrIllegalTransition
	if asIllegal(err, &illegal) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func asIllegal(err error, target **scanner.ErrIllegalTransition) bool {
	for err != nil {
		if t, ok := err.(*scanner.ErrIllegalTransition); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	if err := s.sc.Prepare(r.Context()); err != nil {
		writeIllegalOrError(w, err)
		return
	}
	s.hub.broadcast(s.sc.Status())
	writeJSON(w, http.StatusOK, s.sc.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sc.Start(r.Context()); err != nil {
		writeIllegalOrError(w, err)
		return
	}
	s.hub.broadcast(s.sc.Status())
	writeJSON(w, http.StatusOK, s.sc.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.sc.Pause(); err != nil {
		writeIllegalOrError(w, err)
		return
	}
	s.hub.broadcast(s.sc.Status())
	writeJSON(w, http.StatusOK, s.sc.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sc.Stop(); err != nil {
		writeIllegalOrError(w, err)
		return
	}
	s.hub.broadcast(s.sc.Status())
	writeJSON(w, http.StatusOK, s.sc.Status())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sc.Logout(); err != nil {
		writeIllegalOrError(w, err)
		return
	}
	s.hub.broadcast(s.sc.Status())
	writeJSON(w, http.StatusOK, s.sc.Status())
}

// handleStatus reports the current snapshot (§4.H). The active scan pass's
// correlation id, if any, rides along on X-Scan-Id so an operator can grep
// that pass's driver calls out of the process log without it polluting the
// JSON body's §4.H field set.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if id := s.sc.ScanID(); id != "" {
		w.Header().Set("X-Scan-Id", id)
	}
	writeJSON(w, http.StatusOK, s.sc.Status())
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sc.Exchanges())
}

func (s *Server) handleExchangeScreenshot(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	shot, err := s.sc.ExchangeScreenshot(idx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(shot)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	shot, err := s.sc.Screenshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(shot)
}

func (s *Server) handleGoto(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kingdom, err1 := strconv.ParseUint(q.Get("k"), 10, 32)
	x, err2 := strconv.Atoi(q.Get("x"))
	y, err3 := strconv.Atoi(q.Get("y"))
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, "k, x and y are required integers", http.StatusBadRequest)
		return
	}

	shot, err := s.sc.Goto(r.Context(), uint32(kingdom), x, y)
	if err != nil {
		if err == scanner.ErrDriverBusy {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(shot)
}

type scanKingdomRequest struct {
	Kingdom uint32 `json:"kingdom"`
}

func (s *Server) handleScanKingdom(w http.ResponseWriter, r *http.Request) {
	var req scanKingdomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %s", err), http.StatusBadRequest)
		return
	}

	status, err := s.sc.ScanKingdom(req.Kingdom)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	result, err := s.sc.Detect()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStatusStream upgrades to a websocket, sends the current status
// snapshot on connect, and then pushes a snapshot after every successful
// prepare/start/pause/stop/logout request handled by this server. There is
// no periodic heartbeat, and phase changes the scan loop makes on its own
// (reaching paused, a fatal release to idle) are not pushed.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.subscribe(conn)

	_ = conn.WriteJSON(s.sc.Status())

	go func() {
		defer s.hub.unsubscribe(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// statusHub fans out scanner.Status snapshots to every connected websocket
// client, grounded on the teacher corpus's websocket broadcast hub pattern.
type statusHub struct {
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	send       chan scanner.Status
	clients    map[*websocket.Conn]bool
}

func newStatusHub() *statusHub {
	return &statusHub{
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		send:       make(chan scanner.Status, 16),
		clients:    make(map[*websocket.Conn]bool),
	}
}

func (h *statusHub) subscribe(conn *websocket.Conn)   { h.register <- conn }
func (h *statusHub) unsubscribe(conn *websocket.Conn) { h.unregister <- conn }
func (h *statusHub) broadcast(status scanner.Status)  { h.send <- status }

func (h *statusHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
		case status := <-h.send:
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(status); err != nil {
					delete(h.clients, conn)
					_ = conn.Close()
				}
			}
		}
	}
}
