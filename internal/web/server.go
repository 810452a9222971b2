// Package web serves a read-only view of contracts and their verification history.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/metalagman/accord/internal/contract"
	"github.com/metalagman/accord/internal/db"
	"github.com/metalagman/accord/internal/model"
	"github.com/rs/zerolog/log"
)

const defaultLimit = 50

// Contracts reads contracts.
type Contracts interface {
	List(ctx context.Context) ([]*contract.Contract, error)
	Get(ctx context.Context, id string) (*contract.Contract, error)
}

// History reads verification history.
type History interface {
	ListVerifications(ctx context.Context, contractID string, limit int) ([]db.Verification, error)
	GetVerification(ctx context.Context, id string) (db.Verification, []model.CriterionResult, error)
	Events(ctx context.Context, id string) ([]db.Event, error)
}

// Server provides the HTTP handlers.
type Server struct {
	contracts Contracts
	history   History
	index     *template.Template
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer creates a new web server.
func NewServer(contracts Contracts, history History) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &Server{contracts: contracts, history: history, index: tmpl}, nil
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /contracts", s.handleContracts)
	mux.HandleFunc("GET /contracts/{id}", s.handleContract)
	mux.HandleFunc("GET /contracts/{id}/verifications", s.handleContractVerifications)
	mux.HandleFunc("GET /verifications", s.handleVerifications)
	mux.HandleFunc("GET /verifications/{id}", s.handleVerification)
	return accessLog(mux)
}

type indexRow struct {
	ID       string
	State    model.ContractState
	Criteria int
	Last     *db.Verification
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	contracts, err := s.contracts.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rows := make([]indexRow, 0, len(contracts))
	for _, c := range contracts {
		row := indexRow{ID: c.ID, State: c.State(), Criteria: len(c.Criteria)}
		last, err := s.history.ListVerifications(r.Context(), c.ID, 1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(last) > 0 {
			row.Last = &last[0]
		}
		rows = append(rows, row)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, rows); err != nil {
		log.Error().Err(err).Msg("render index")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	items, err := s.contracts.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*contract.Contract{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.contracts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleContractVerifications(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.contracts.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.listVerifications(w, r, id)
}

func (s *Server) handleVerifications(w http.ResponseWriter, r *http.Request) {
	s.listVerifications(w, r, r.URL.Query().Get("contract"))
}

func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request, contractID string) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	items, err := s.history.ListVerifications(r.Context(), contractID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []db.Verification{}
	}
	writeJSON(w, http.StatusOK, items)
}

type verificationDetail struct {
	db.Verification
	Results []model.CriterionResult `json:"criterion_results"`
	Events  []db.Event              `json:"events"`
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, results, err := s.history.GetVerification(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.history.Events(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []model.CriterionResult{}
	}
	if events == nil {
		events = []db.Event{}
	}
	writeJSON(w, http.StatusOK, verificationDetail{Verification: v, Results: results, Events: events})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, contract.ErrNotFound) || errors.Is(err, db.ErrVerificationNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}
