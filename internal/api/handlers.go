package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"sleepstage/app"
	"sleepstage/internal/classifier"
	"sleepstage/internal/errors"
)

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.tracking.StartSession(r.Context(), userParam(r))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id.String()})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tracking.StopSession(userParam(r)); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracking.Status(userParam(r))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var in classifier.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && err != io.EOF {
		s.writeAppError(w, errors.InvalidInput("invalid tick body: "+err.Error()))
		return
	}
	result, err := s.tracking.ClassifyTick(r.Context(), userParam(r), in)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	m, err := s.training.LoadModel(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if m == nil {
		s.writeAppError(w, errors.NotFound("model for "+userID.String()))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleClearModel(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	if err := s.training.ClearModel(r.Context(), userID); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.reports.Delete(userID)
	w.WriteHeader(http.StatusNoContent)
}

// handleTrain runs training synchronously and returns the report. The
// response is 200 even when the report carries errors.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	if userID == "" {
		s.writeAppError(w, errors.InvalidInput("user id is required"))
		return
	}
	hoursBack := 0
	if v := r.URL.Query().Get("hoursBack"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeAppError(w, errors.InvalidInput("hoursBack must be a positive integer"))
			return
		}
		hoursBack = n
	}

	_, report := s.training.TrainModel(r.Context(), userID, hoursBack, nil)
	s.reports.Store(userID, report)
	writeJSON(w, http.StatusOK, report)
}

// handleReport renders the latest training report as HTML, or as markdown
// with ?format=md.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	v, ok := s.reports.Load(userID)
	if !ok {
		s.writeAppError(w, errors.NotFound("training report for "+userID.String()))
		return
	}
	report := v.(*app.TrainingReport)
	md := RenderReportMarkdown(report)

	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write(md)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(RenderReportHTML(md))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.training.Runs(r.Context(), userParam(r), limit)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if runs == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
