package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"exam-integrity-monitor/identity"
	"exam-integrity-monitor/images"
	"exam-integrity-monitor/journal"
	"exam-integrity-monitor/models"
	"exam-integrity-monitor/monitor"
	"exam-integrity-monitor/proctor"
	"exam-integrity-monitor/session"
	"exam-integrity-monitor/view"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE = "failed to decode request body"
const ERR_NONCE_RETRIEVAL = "failed to get nonce from storage"
const ERR_INVALID_NONCE_SESSION = "invalid session or nonce"
const ERR_UNKNOWN_SESSION = "unknown session"
const ERR_BACKEND = "proctor backend request failed"

const maxReferenceSide = 1024

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	UseTls         bool     `mapstructure:"use_tls"`
	TlsPrivKeyPath string   `mapstructure:"tls_priv_key_path"`
	TlsCertPath    string   `mapstructure:"tls_cert_path"`
	StaticPath     string   `mapstructure:"static_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ServerState struct {
	nonceStorage  NonceStorage
	tokenIssuer   TokenIssuer
	backend       proctor.Client
	sessions      *SessionRegistry
	journal       *journal.Store
	guardStore    identity.GuardStore
	namespace     string
	monitorConfig monitor.Config
}

type SpaHandler struct {
	staticPath string
	indexPath  string
}

type Server struct {
	server *http.Server
	config ServerConfig
	state  *ServerState
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server", "sessions", s.state.sessions.Len())
	s.state.sessions.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

// ServeHTTP serves the exam page. Unknown paths get the index so client
// side routing keeps working.
func (h SpaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Join internally call path.Clean to prevent directory traversal
	path := filepath.Join(h.staticPath, r.URL.Path)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && fi.IsDir()) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}
	if err != nil {
		slog.Error("Error stating file", "path", path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	if state.sessions == nil {
		state.sessions = NewSessionRegistry()
	}
	upgrader := newUpgrader(config.AllowedOrigins)
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(state, w, r)
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleCreateSession(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		handleSessionSocket(state, upgrader, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		handleSessionStatus(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}/journal", func(w http.ResponseWriter, r *http.Request) {
		handleSessionJournal(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSession(state, w, r)
	}).Methods(http.MethodDelete)

	router.HandleFunc("/api/results", func(w http.ResponseWriter, r *http.Request) {
		handleResults(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/reference-images", func(w http.ResponseWriter, r *http.Request) {
		handleUploadReferenceImage(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/reference-images/{student_id}", func(w http.ResponseWriter, r *http.Request) {
		handleListReferenceImages(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/reference-images/{student_id}/status", func(w http.ResponseWriter, r *http.Request) {
		handleReferenceStatus(state, w, r)
	}).Methods(http.MethodGet)

	if config.StaticPath != "" {
		router.PathPrefix("/").Handler(SpaHandler{staticPath: config.StaticPath, indexPath: "index.html"})
	}

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{server: srv, config: config, state: state}, nil
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	upgrader := &websocket.Upgrader{}
	if len(allowedOrigins) > 0 {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		}
	}
	return upgrader
}

// -----------------------------------------------------------------------------------

func handleHealth(state *ServerState, w http.ResponseWriter, r *http.Request) {
	slog.Debug("Health check request received")
	backendOk := true
	if err := state.backend.HealthCheck(r.Context()); err != nil {
		slog.Warn("Proctor backend unreachable", "error", err)
		backendOk = false
	}
	if err := writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "backend": backendOk}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleCreateSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var request models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	sess, err := session.NewContext(request.StudentId, request.ExamId)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "invalid session identifiers", err)
		return
	}

	sessionId := GenerateSessionId()

	// Generate an 8 byte nonce, redeemed when the page opens the websocket
	nonce, err := GenerateNonce(8)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate nonce", err)
		return
	}
	if err := state.nonceStorage.StoreNonce(r.Context(), sessionId, nonce); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store nonce", err)
		return
	}

	token, err := state.tokenIssuer.IssueSessionToken(sessionId, sess)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to issue session token", err)
		return
	}

	state.sessions.Create(sessionId, sess)

	response := models.CreateSessionResponse{SessionId: sessionId, Nonce: nonce, Token: token}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Exam session created", "session_id", sessionId, "student_id", sess.StudentID, "exam_id", sess.ExamID)
}

func handleSessionSocket(state *ServerState, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	sess, _, ok := state.sessions.Get(sessionId)
	if !ok {
		respondWithErr(w, http.StatusNotFound, ERR_UNKNOWN_SESSION, ERR_UNKNOWN_SESSION, fmt.Errorf("session %s", sessionId))
		return
	}

	query := r.URL.Query()
	if _, err := state.tokenIssuer.VerifySessionToken(query.Get("token"), sessionId); err != nil {
		respondWithErr(w, http.StatusUnauthorized, "invalid token", "session token rejected", err)
		return
	}
	if err := validateSession(r.Context(), state.nonceStorage, sessionId, query.Get("nonce")); err != nil {
		respondWithErr(w, http.StatusUnauthorized, ERR_INVALID_NONCE_SESSION, ERR_INVALID_NONCE_SESSION, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		slog.Warn("Failed to upgrade to websocket", "session_id", sessionId, "error", err)
		return
	}

	log := slog.Default().With("session_id", sessionId)
	bridge := NewBridge(conn, log)
	defer bridge.Close()

	deps := monitor.Deps{
		SessionID:  sessionId,
		Backend:    state.backend,
		Camera:     bridge.Camera(),
		Browser:    bridge,
		Terminator: bridge.Terminate,
		GuardStore: state.guardStore,
		GuardKey:   identity.GuardKey(state.namespace, sessionId),
		Logger:     slog.Default(),
	}
	if state.journal != nil {
		deps.Journal = state.journal
	}
	mon := monitor.New(sess, state.monitorConfig, deps)
	if err := state.sessions.Attach(sessionId, mon); err != nil {
		log.Warn("Rejecting second connection", "error", err)
		_ = bridge.SendError("already_monitored", err.Error())
		return
	}
	defer state.sessions.Finish(sessionId, mon)
	defer mon.Close()

	if err := bridge.SendPolicy(); err != nil {
		log.Warn("Failed to send policy", "error", err)
		return
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- bridge.ReadLoop(mon)
	}()

	if err := mon.Start(r.Context()); err != nil {
		if errors.Is(err, monitor.ErrCameraUnavailable) {
			_ = bridge.SendError("camera_unavailable", view.CameraUnavailableText)
		} else {
			_ = bridge.SendError("start_failed", err.Error())
		}
		log.Warn("Monitoring could not start", "error", err)
		return
	}

	statusCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.StreamStatus(statusCtx, func() (any, []string) {
		s := mon.Snapshot()
		return s, s.Render()
	})

	select {
	case <-mon.Done():
		log.Info("Monitoring ended", "reason", mon.Reason())
	case err := <-readErr:
		log.Info("Exam page disconnected", "error", err)
	}
}

func handleSessionStatus(state *ServerState, w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	_, mon, ok := state.sessions.Get(sessionId)
	if !ok {
		respondWithErr(w, http.StatusNotFound, ERR_UNKNOWN_SESSION, ERR_UNKNOWN_SESSION, fmt.Errorf("session %s", sessionId))
		return
	}
	if mon == nil {
		respondWithErr(w, http.StatusConflict, "session not started", "status requested before monitoring started", nil)
		return
	}
	if err := writeJSON(w, http.StatusOK, mon.Snapshot()); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleSessionJournal(state *ServerState, w http.ResponseWriter, r *http.Request) {
	if state.journal == nil {
		respondWithErr(w, http.StatusNotFound, "journal disabled", "journal requested but not configured", nil)
		return
	}
	entries, err := state.journal.List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to list journal", err)
		return
	}
	if err := writeJSON(w, http.StatusOK, entries); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleDeleteSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	mon, ok := state.sessions.Remove(sessionId)
	if !ok {
		respondWithErr(w, http.StatusNotFound, ERR_UNKNOWN_SESSION, ERR_UNKNOWN_SESSION, fmt.Errorf("session %s", sessionId))
		return
	}
	if mon != nil {
		mon.Close()
	}
	if err := state.nonceStorage.RemoveNonce(r.Context(), sessionId); err != nil {
		slog.Warn("Failed to remove nonce", "session_id", sessionId, "error", err)
	}
	slog.Info("Exam session removed", "session_id", sessionId)
	w.WriteHeader(http.StatusNoContent)
}

func handleResults(state *ServerState, w http.ResponseWriter, r *http.Request) {
	studentId := r.URL.Query().Get("student_id")
	examId := r.URL.Query().Get("exam_id")
	if studentId == "" || examId == "" {
		respondWithErr(w, http.StatusBadRequest, "student_id and exam_id are required", "results requested without identifiers", nil)
		return
	}

	resp, err := state.backend.GetViolations(r.Context(), studentId, examId)
	if err != nil {
		respondWithErr(w, http.StatusBadGateway, ERR_BACKEND, ERR_BACKEND, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleUploadReferenceImage(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var request models.FaceImageUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}
	if request.StudentId == "" {
		respondWithErr(w, http.StatusBadRequest, "student_id is required", "reference upload without student", nil)
		return
	}
	normalized, err := normalizeReferenceImage(request.Image)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid image", "reference image rejected", err)
		return
	}
	request.Image = normalized
	if request.ViewType == "" {
		request.ViewType = "front"
	}

	resp, err := state.backend.UploadFaceImage(r.Context(), request)
	if err != nil {
		respondWithErr(w, http.StatusBadGateway, ERR_BACKEND, ERR_BACKEND, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleListReferenceImages(state *ServerState, w http.ResponseWriter, r *http.Request) {
	resp, err := state.backend.FaceImages(r.Context(), mux.Vars(r)["student_id"])
	if err != nil {
		respondWithErr(w, http.StatusBadGateway, ERR_BACKEND, ERR_BACKEND, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleReferenceStatus(state *ServerState, w http.ResponseWriter, r *http.Request) {
	resp, err := state.backend.VerificationStatus(r.Context(), mux.Vars(r)["student_id"])
	if err != nil {
		respondWithErr(w, http.StatusBadGateway, ERR_BACKEND, ERR_BACKEND, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// normalizeReferenceImage checks that dataURL holds a decodable image and
// shrinks oversized photos to maxReferenceSide before they are stored.
func normalizeReferenceImage(dataURL string) (string, error) {
	_, raw, err := images.FromDataURL(dataURL)
	if err != nil {
		return "", err
	}
	img, err := images.Decode(raw)
	if err != nil {
		return "", err
	}
	resized := images.ResizeToFit(img, maxReferenceSide, maxReferenceSide)
	if resized == img {
		return dataURL, nil
	}
	var buf bytes.Buffer
	if err := images.EncodeJPEG(&buf, resized, images.DefaultJPEGQuality); err != nil {
		return "", err
	}
	return images.ToDataURL(images.MimeJPEG, buf.Bytes()), nil
}

// validateSession redeems the nonce of a session. A nonce can be redeemed once.
func validateSession(ctx context.Context, storage NonceStorage, sessionId, nonce string) error {
	storedNonce, err := storage.TakeNonce(ctx, sessionId)
	if err != nil {
		slog.Warn("Failed to retrieve nonce from storage", "session_id", sessionId, "error", err)
		return fmt.Errorf("%s: %w", ERR_NONCE_RETRIEVAL, err)
	}

	if storedNonce == "" || storedNonce != nonce {
		slog.Warn("Invalid nonce or session", "session_id", sessionId, "nonce_empty", storedNonce == "")
		return fmt.Errorf("%s", ERR_INVALID_NONCE_SESSION)
	}
	return nil
}

func GenerateSessionId() string {
	return uuid.NewString()
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(payload); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
