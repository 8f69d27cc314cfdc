package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ha1tch/amzmeta/pkg/config"
	"github.com/ha1tch/amzmeta/pkg/models"
	"github.com/ha1tch/amzmeta/pkg/report"
	"github.com/ha1tch/amzmeta/pkg/storage"
	"github.com/ha1tch/amzmeta/pkg/validation"
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
	}
	if info, ok := s.storage.(storage.InfoProvider); ok {
		status["store"] = info.Info().Type
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleVersion returns server version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": config.Version,
	})
}

// handleStats returns the row count of every table
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.storage.TableCounts(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count rows")
		s.writeError(w, http.StatusInternalServerError, "Failed to count rows")
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

// handleListReports returns the report catalogue
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	qs := report.Queries()
	infos := make([]models.ReportInfo, 0, len(qs))
	for _, q := range qs {
		infos = append(infos, q.Info())
	}
	s.writeJSON(w, http.StatusOK, infos)
}

// handleRunReport runs one report, taking the ASIN from the query string
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid report id")
		return
	}

	q, err := report.Lookup(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Report %d not found", id))
		return
	}

	asin := r.URL.Query().Get("asin")
	if valid, problems := validation.ValidateReportRequest(q.NeedsASIN, asin); !valid {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"details": problems,
		})
		return
	}

	res, err := s.reporter.Run(r.Context(), id, asin)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrInvalidASIN), errors.Is(err, validation.ErrMissingASIN):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, report.ErrUnknownQuery):
			s.writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error().Err(err).Int("report", id).Msg("Failed to run report")
			s.writeError(w, http.StatusInternalServerError, "Failed to run report")
		}
		return
	}

	s.logger.Debug().Int("report", id).Str("asin", res.ASIN).Bool("cached", res.Cached).Msg("Served report")

	s.writeJSON(w, http.StatusOK, models.ReportResponse{
		Report: res.Query.Info(),
		ASIN:   res.ASIN,
		Cached: res.Cached,
		Data:   res.Table,
	})
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, models.ErrorResponse{
		Error: struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		}{
			Message: message,
			Status:  status,
		},
	})
}
