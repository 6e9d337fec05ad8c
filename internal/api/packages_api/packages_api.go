package packages_api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/PickupBox/internal/metrics"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/services/packages"
	"github.com/BearBump/PickupBox/internal/services/sessions"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	SessionHeader = "X-Session-ID"

	maxMessageBody = 64 << 10
	maxImportBody  = 10 << 20
)

var errNoSessionStore = errors.New("backend returned no session store")

type PackagesAPI struct {
	backend Backend

	rl                 RateLimiter
	rateLimitPerMinute int64

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(backend Backend) *PackagesAPI {
	return &PackagesAPI{
		backend: backend,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
}

func (a *PackagesAPI) WithMetrics(m *metrics.Metrics) *PackagesAPI {
	a.metrics = m
	return a
}

func (a *PackagesAPI) WithLogger(l *zap.Logger) *PackagesAPI {
	if l != nil {
		a.logger = l
	}
	return a
}

// Routes mounts the /v1 endpoints on r.
func (a *PackagesAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.rateLimit)
			r.Post("/messages/parse", a.parseMessage)
			r.Post("/packages", a.addPackage)
			r.Post("/packages/{id}/collect", a.markCollected)
			r.Post("/session/import", a.importSession)
		})
		r.Get("/packages/pending", a.listPending)
		r.Get("/session/export", a.exportSession)
		r.Delete("/session", a.clearSession)
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type addResponse struct {
	packages.AddResult
	Error string `json:"error,omitempty"`
}

type pendingResponse struct {
	Packages []*models.Package `json:"packages"`
	Count    int               `json:"count"`
}

type collectResponse struct {
	Collected bool `json:"collected"`
}

type importResponse struct {
	Imported int    `json:"imported"`
	NextID   uint64 `json:"next_id"`
}

type clearResponse struct {
	Cleared bool `json:"cleared"`
}

func (a *PackagesAPI) parseMessage(w http.ResponseWriter, r *http.Request) {
	text, ok := a.readText(w, r)
	if !ok {
		return
	}
	scope, ok := a.begin(w, r)
	if !ok {
		return
	}
	defer scope.Close()
	writeJSON(w, http.StatusOK, scope.Service.Parse(text))
}

func (a *PackagesAPI) addPackage(w http.ResponseWriter, r *http.Request) {
	text, ok := a.readText(w, r)
	if !ok {
		return
	}
	scope, ok := a.begin(w, r)
	if !ok {
		return
	}
	defer scope.Close()

	res, err := scope.Service.AddMessage(r.Context(), text)
	if errors.Is(err, packages.ErrEmptyMessage) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		a.internalError(w, "add package", err)
		return
	}
	if !res.Parsed {
		writeJSON(w, http.StatusUnprocessableEntity, addResponse{Error: "could not parse message"})
		return
	}
	if !a.commit(w, r, scope) {
		return
	}
	writeJSON(w, http.StatusCreated, addResponse{AddResult: res})
}

func (a *PackagesAPI) listPending(w http.ResponseWriter, r *http.Request) {
	scope, ok := a.begin(w, r)
	if !ok {
		return
	}
	defer scope.Close()
	list, err := scope.Service.ListPending(r.Context())
	if err != nil {
		a.internalError(w, "list pending", err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Packages: list, Count: len(list)})
}

func (a *PackagesAPI) markCollected(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id must be a positive integer"})
		return
	}
	scope, ok := a.begin(w, r)
	if !ok {
		return
	}
	defer scope.Close()

	collected, err := scope.Service.MarkCollected(r.Context(), id)
	if err != nil {
		a.internalError(w, "mark collected", err)
		return
	}
	if collected && !a.commit(w, r, scope) {
		return
	}
	writeJSON(w, http.StatusOK, collectResponse{Collected: collected})
}

func (a *PackagesAPI) exportSession(w http.ResponseWriter, r *http.Request) {
	scope, ok := a.beginSession(w, r)
	if !ok {
		return
	}
	defer scope.Close()
	b, err := scope.Session.Export()
	if err != nil {
		a.internalError(w, "export session", err)
		return
	}
	name := fmt.Sprintf("pickupbox_backup_%s.json", a.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (a *PackagesAPI) importSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}
	scope, ok := a.beginSession(w, r)
	if !ok {
		return
	}
	defer scope.Close()

	n, err := scope.Session.Import(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !a.commit(w, r, scope) {
		return
	}
	a.logger.Info("session imported", zap.Int("packages", n))
	writeJSON(w, http.StatusOK, importResponse{Imported: n, NextID: scope.Session.NextID()})
}

func (a *PackagesAPI) clearSession(w http.ResponseWriter, r *http.Request) {
	scope, ok := a.beginSession(w, r)
	if !ok {
		return
	}
	defer scope.Close()
	scope.Session.Clear()
	if !a.commit(w, r, scope) {
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Cleared: true})
}

func (a *PackagesAPI) readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return "", false
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: packages.ErrEmptyMessage.Error()})
		return "", false
	}
	return req.Text, true
}

// begin resolves the request's scope. In session mode a missing session id is
// replaced by a new one, returned in the response header.
func (a *PackagesAPI) begin(w http.ResponseWriter, r *http.Request) (*Scope, bool) {
	sessionID := ""
	if a.backend.Sessioned() {
		sessionID = r.Header.Get(SessionHeader)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		w.Header().Set(SessionHeader, sessionID)
	}

	scope, err := a.backend.Begin(r.Context(), sessionID)
	if errors.Is(err, sessions.ErrSessionBusy) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return nil, false
	}
	if err != nil {
		a.internalError(w, "begin request", err)
		return nil, false
	}
	return scope, true
}

func (a *PackagesAPI) beginSession(w http.ResponseWriter, r *http.Request) (*Scope, bool) {
	if !a.backend.Sessioned() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session store is not enabled"})
		return nil, false
	}
	scope, ok := a.begin(w, r)
	if !ok {
		return nil, false
	}
	if scope.Session == nil {
		scope.Close()
		a.internalError(w, "begin session", errNoSessionStore)
		return nil, false
	}
	return scope, true
}

func (a *PackagesAPI) commit(w http.ResponseWriter, r *http.Request, scope *Scope) bool {
	if err := scope.Commit(r.Context()); err != nil {
		a.internalError(w, "save session", err)
		return false
	}
	return true
}

func (a *PackagesAPI) internalError(w http.ResponseWriter, op string, err error) {
	a.logger.Error(op, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: op + " failed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
