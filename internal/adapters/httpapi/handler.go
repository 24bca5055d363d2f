package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/modelobserver/observer"
)

const maxJSONBodySize = 1 << 20

//go:embed schemas/*.json
var schemaFS embed.FS

// Handler exposes a LedgerSet to test drivers running in another process.
// Requests are serialized because ledgers are not safe for concurrent use.
type Handler struct {
	mu          sync.Mutex
	set         *observer.LedgerSet
	logger      *zap.Logger
	deltaSchema *santhosh.Schema
	registry    *prometheus.Registry
}

func NewHandler(set *observer.LedgerSet, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sch, err := compileSchema("assert_delta.json")
	if err != nil {
		return nil, fmt.Errorf("compile assert delta schema: %w", err)
	}
	h := &Handler{set: set, logger: logger, deltaSchema: sch, registry: prometheus.NewRegistry()}
	if err := h.registry.Register(ledgerCollector{h: h}); err != nil {
		return nil, fmt.Errorf("register ledger metrics: %w", err)
	}
	return h, nil
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.logRequests)
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))

	r.Get("/v1/ledgers", h.listLedgers)
	r.Post("/v1/ledgers:reset", h.resetLedgers)
	r.Get("/v1/ledgers/{entity}", h.getLedger)
	r.Post("/v1/ledgers/{entity}/assert-untouched", h.assertUntouched)
	r.Get("/v1/ledgers/{entity}/records/{id}", h.recordStatus)
	r.Post("/v1/ledgers/{entity}/records/{id}/track", h.trackRecord)
	r.Get("/v1/ledgers/{entity}/records/{id}/delta", h.recordDelta)
	r.Post("/v1/ledgers/{entity}/records/{id}/assert-delta", h.assertDelta)

	return r
}

type assertDeltaRequest struct {
	Delta map[string]any `json:"delta"`
}

type deltaResponse struct {
	Entity string         `json:"entity"`
	ID     any            `json:"id"`
	Delta  observer.Delta `json:"delta"`
}

type mismatchResponse struct {
	Error    string         `json:"error"`
	Entity   string         `json:"entity"`
	ID       any            `json:"id"`
	Expected observer.Delta `json:"expected"`
	Actual   observer.Delta `json:"actual"`
}

type unexpectedChangeResponse struct {
	Error   string `json:"error"`
	Entity  string `json:"entity"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) listLedgers(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"scope_id":  h.set.ID(),
		"untouched": h.set.AllUntouched(),
		"ledgers":   h.set.Reports(),
	})
}

func (h *Handler) resetLedgers(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.set.ResetAll()
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.set.Lookup(chi.URLParam(r, "entity"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l.Report())
}

func (h *Handler) assertUntouched(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.set.Lookup(chi.URLParam(r, "entity"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	if err := l.AssertUntouched(); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) recordStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.set.Lookup(chi.URLParam(r, "entity"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	status, err := l.StatusOfID(r.Context(), parseID(chi.URLParam(r, "id")))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) trackRecord(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.set.Lookup(chi.URLParam(r, "entity"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	id := parseID(chi.URLParam(r, "id"))
	if err := l.TrackID(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}
	tr, err := l.TrackerOfID(id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":  l.Entity().Name(),
		"id":      tr.ID(),
		"tracked": true,
		"fields":  tr.Snapshot().Names(),
	})
}

func (h *Handler) recordDelta(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.set.Lookup(chi.URLParam(r, "entity"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	id := observer.NormalizeID(parseID(chi.URLParam(r, "id")))
	delta, err := l.DeltaOfID(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deltaResponse{Entity: l.Entity().Name(), ID: id, Delta: delta})
}

func (h *Handler) assertDelta(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.set.Lookup(chi.URLParam(r, "entity"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := validateBody(h.deltaSchema, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req assertDeltaRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id := parseID(chi.URLParam(r, "id"))
	if err := l.AssertDeltaOfID(r.Context(), id, observer.Delta(req.Delta)); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			zap.String("scope_id", h.set.ID()),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// parseID keeps numeric path ids numeric so they match integer primary keys.
func parseID(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func compileSchema(name string) (*santhosh.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

func validateBody(sch *santhosh.Schema, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return errors.New("invalid json body")
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("invalid request body: %s", firstCause(ve))
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func firstCause(ve *santhosh.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		zap.L().Error("encode json response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var mismatch *observer.DeltaMismatchError
	var change *observer.UnexpectedChangeError
	switch {
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusConflict, mismatchResponse{
			Error:    err.Error(),
			Entity:   mismatch.Entity.Name(),
			ID:       mismatch.ID,
			Expected: mismatch.Expected,
			Actual:   mismatch.Actual,
		})
	case errors.As(err, &change):
		writeJSON(w, http.StatusConflict, unexpectedChangeResponse{
			Error:   err.Error(),
			Entity:  change.Entity.Name(),
			Created: change.Created,
			Updated: change.Updated,
			Deleted: change.Deleted,
		})
	case errors.Is(err, observer.ErrUnknownEntityType),
		errors.Is(err, observer.ErrNotTracked),
		errors.Is(err, observer.ErrNotPersisted):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, observer.ErrWrongEntityType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("inspector request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "modelobserver inspector",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/ledgers": map[string]any{
				"get": map[string]any{"summary": "List ledger reports"},
			},
			"/v1/ledgers:reset": map[string]any{
				"post": map[string]any{"summary": "Reset every ledger"},
			},
			"/v1/ledgers/{entity}": map[string]any{
				"get": map[string]any{"summary": "Get ledger report"},
			},
			"/v1/ledgers/{entity}/assert-untouched": map[string]any{
				"post": map[string]any{"summary": "Assert no record of the entity changed"},
			},
			"/v1/ledgers/{entity}/records/{id}": map[string]any{
				"get": map[string]any{"summary": "Get record status"},
			},
			"/v1/ledgers/{entity}/records/{id}/track": map[string]any{
				"post": map[string]any{"summary": "Snapshot the record"},
			},
			"/v1/ledgers/{entity}/records/{id}/delta": map[string]any{
				"get": map[string]any{"summary": "Get tracked record delta"},
			},
			"/v1/ledgers/{entity}/records/{id}/assert-delta": map[string]any{
				"post": map[string]any{"summary": "Assert tracked record delta"},
			},
		},
	}
}
