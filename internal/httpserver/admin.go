package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"intake-bot/internal/repo"
	"intake-bot/internal/review"
	"intake-bot/internal/sheet"
)

const (
	statsCacheKey = "intake:stats"
	statsCacheTTL = 30 * time.Second
)

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusServiceUnavailable, "admin api disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	filter, err := repo.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subs, err := s.deps.Repository.ListSubmissions(r.Context(), filter)
	if err != nil {
		s.serverError(w, "list submissions", err)
		return
	}
	if subs == nil {
		subs = []repo.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs, "count": len(subs)})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sub, err := s.deps.Repository.GetSubmission(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		s.serverError(w, "get submission", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var stats repo.SubmissionStats
	if s.deps.Cache != nil {
		found, err := s.deps.Cache.GetJSON(ctx, statsCacheKey, &stats)
		if err != nil {
			s.logger.Warn("stats cache read failed", "error", err)
		}
		if found {
			writeJSON(w, http.StatusOK, stats)
			return
		}
	}

	fresh, err := s.deps.Repository.SubmissionStats(ctx)
	if err != nil {
		s.serverError(w, "submission stats", err)
		return
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetJSON(ctx, statsCacheKey, fresh, statsCacheTTL); err != nil {
			s.logger.Warn("stats cache write failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, fresh)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := repo.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subs, err := s.deps.Repository.ListSubmissions(r.Context(), filter)
	if err != nil {
		s.serverError(w, "export submissions", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="submissions.csv"`)
	if err := sheet.WriteCSV(w, subs); err != nil {
		s.logger.Error("write csv export failed", "error", err)
	}
}

type reviewRequest struct {
	Status   string `json:"status"`
	Comments string `json:"comments"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	decision, err := repo.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := s.deps.Reviewer.Review(r.Context(), id, decision, req.Comments)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "submission not found")
		return
	case errors.Is(err, review.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.serverError(w, "review submission", err)
		return
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Delete(r.Context(), statsCacheKey); err != nil {
			s.logger.Warn("stats cache invalidate failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues("http").Inc()
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return 0, false
	}
	return id, true
}
