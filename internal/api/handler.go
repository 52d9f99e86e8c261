// Package api exposes the question-answering pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dsp/internal/backend"
	"github.com/kalambet/dsp/internal/compiler"
	"github.com/kalambet/dsp/internal/primitives"
)

// Runner executes the pipeline for one question.
type Runner interface {
	Ask(ctx context.Context, question string) (AskResponse, error)
}

// AskResponse is the pipeline result returned to clients.
type AskResponse struct {
	Answer   string   `json:"answer"`
	Passages []string `json:"passages,omitempty"`
}

// TrainExample is one labeled training example in a compile request.
type TrainExample struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Compiler bootstraps demonstrations from a training set. k <= 0 selects
// the configured default.
type Compiler interface {
	Compile(ctx context.Context, trainset []TrainExample, k int) (*compiler.Compiled, error)
}

// Deps holds the handler dependencies.
type Deps struct {
	Runner   Runner
	RM       backend.RM
	Compiler Compiler
}

// NewHandler builds the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", handleHealth)
	r.Post("/v1/ask", handleAsk(deps))
	r.Post("/v1/search", handleSearch(deps))
	r.Post("/v1/compile", handleCompile(deps))
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleAsk(deps Deps) http.HandlerFunc {
	type askRequest struct {
		Question string `json:"question"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			writeError(w, http.StatusBadRequest, "question is required")
			return
		}

		resp, err := deps.Runner.Ask(r.Context(), req.Question)
		if err != nil {
			slog.Error("ask failed", "question", req.Question, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// searchResult is one retrieved passage in the search response.
type searchResult struct {
	Text  string  `json:"text"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	type searchRequest struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		k := req.K
		if k <= 0 {
			k = 3
		}
		if k > 50 {
			k = 50
		}

		passages, err := deps.RM.Search(r.Context(), req.Query, k)
		if err != nil {
			slog.Error("search failed", "query", req.Query, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		results := make([]searchResult, len(passages))
		for i, p := range passages {
			results[i] = searchResult{Text: p.Text, Title: p.Title, Score: p.Score}
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func handleCompile(deps Deps) http.HandlerFunc {
	type compileRequest struct {
		Train []TrainExample `json:"train"`
		K     int            `json:"k"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Compiler == nil {
			writeError(w, http.StatusNotImplemented, "compilation is not enabled")
			return
		}

		var req compileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Train) == 0 {
			writeError(w, http.StatusBadRequest, "train is required")
			return
		}
		for i, ex := range req.Train {
			if strings.TrimSpace(ex.Question) == "" || strings.TrimSpace(ex.Answer) == "" {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("training example %d: question and answer are required", i))
				return
			}
		}

		compiled, err := deps.Compiler.Compile(r.Context(), req.Train, req.K)
		if err != nil {
			if errors.Is(err, primitives.ErrInsufficientDemonstrations) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			slog.Error("compile failed", "train", len(req.Train), "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, compiled)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
