package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/askd/internal/query"
	"github.com/kalambet/askd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

//go:embed static/index.html
var indexHTML []byte

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is returned by POST /ask for every accepted question, including failed ones.
type AskResponse struct {
	Answer string `json:"answer"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	History []storage.QueryRecord `json:"history"`
}

// ClearResponse is returned by POST /clear_history.
type ClearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Records   int64  `json:"records"`
	Inference string `json:"inference"`
}

// NewHandler returns the http.Handler serving the web page and the JSON API.
func NewHandler(svc *query.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.Get("/", handleIndex)
	r.Get("/health", handleHealth(svc))
	r.Post("/ask", handleAsk(svc))
	r.Get("/history", handleHistory(svc))
	r.Post("/clear_history", handleClearHistory(svc))

	return r
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func handleHealth(svc *query.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Count(r.Context())
		if err != nil {
			slog.Error("health check failed", "error", err)
			httpError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}

		inference := "configured"
		if !svc.Configured() {
			inference = "missing_api_key"
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Records: n, Inference: inference})
	}
}

func handleAsk(svc *query.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}

		// A client that disconnects mid-inference still gets its question recorded.
		ctx := context.WithoutCancel(r.Context())

		res, err := svc.Ask(ctx, req.Question)
		if errors.Is(err, query.ErrEmptyQuestion) {
			httpError(w, http.StatusBadRequest, "Empty question")
			return
		}
		if err != nil {
			slog.Error("ask failed", "error", err)
			httpError(w, http.StatusInternalServerError, "failed to save query")
			return
		}

		status := http.StatusOK
		if res.Err != nil {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, AskResponse{Answer: res.Answer})
	}
}

func handleHistory(svc *query.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := svc.History(r.Context())
		if err != nil {
			slog.Error("loading history failed", "error", err)
			httpError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		writeJSON(w, http.StatusOK, HistoryResponse{History: records})
	}
}

func handleClearHistory(svc *query.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Clear(r.Context())
		if err != nil {
			slog.Error("clearing history failed", "error", err)
			httpError(w, http.StatusInternalServerError, "failed to clear history")
			return
		}
		slog.Info("history cleared", "records", n)
		writeJSON(w, http.StatusOK, ClearResponse{Success: true, Message: "History cleared"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
