package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/jamesruggles/surfacewatch/internal/pipeline"
	"github.com/jamesruggles/surfacewatch/internal/scanner"
	"github.com/jamesruggles/surfacewatch/internal/tools"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// emptyIfNil keeps JSON lists as [] rather than null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func queryInt64(r *http.Request, name string) (int64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, true, err
	}
	return v, true, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, scanner.Profiles())
}

func (s *Server) handleAPIToolStatus(w http.ResponseWriter, r *http.Request) {
	statuses := tools.Detect(r.Context(), tools.NmapProbe(s.cfg.Scan.NmapPath))
	writeJSON(w, http.StatusOK, statuses)
}

// --- Scan API ---

type startScanRequest struct {
	Target  string `json:"target"`
	Profile string `json:"profile"`
}

func (s *Server) handleAPIScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		scans, err := s.db.ListScans(r.Context(), r.URL.Query().Get("target"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(scans))

	case http.MethodPost:
		var req startScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Target == "" {
			req.Target = s.cfg.Scan.DefaultTarget
		}
		if req.Profile == "" {
			req.Profile = s.cfg.Scan.DefaultProfile
		}

		run, err := s.pipeline.Begin(r.Context(), req.Target, req.Profile)
		var cerr *scanner.ConfigurationError
		switch {
		case errors.Is(err, pipeline.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.As(err, &cerr), errors.Is(err, tools.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		s.background.Add(1)
		go func() {
			defer s.background.Done()
			// outcome is persisted and logged by the pipeline
			_, _ = run.Execute(s.scanCtx)
		}()
		writeJSON(w, http.StatusAccepted, run.Scan)

	default:
		methodNotAllowed(w)
	}
}

// handleAPIScan handles /api/scans/{id} and /api/scans/{id}/events.
func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/scans/")
	if idStr == "" {
		writeError(w, http.StatusBadRequest, "missing scan id")
		return
	}

	parts := strings.SplitN(idStr, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan id")
		return
	}

	if len(parts) > 1 {
		if parts[1] != "events" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.handleAPIScanEvents(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		scan, err := s.db.GetScan(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if scan == nil {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		writeJSON(w, http.StatusOK, scan)

	case http.MethodDelete:
		if !s.pipeline.Cancel(id) {
			writeError(w, http.StatusConflict, "scan is not running")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})

	default:
		methodNotAllowed(w)
	}
}

type scanEvents struct {
	Hosts []database.HostRecord `json:"hosts"`
	Ports []database.PortEvent  `json:"ports"`
}

func (s *Server) handleAPIScanEvents(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	hosts, err := s.db.ListHosts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ports, err := s.db.ListPortEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scanEvents{Hosts: emptyIfNil(hosts), Ports: emptyIfNil(ports)})
}

// --- Diff and history API ---

// handleAPIDiff compares two scans. Without baseline it uses the previous
// completed scan of the current scan's target.
func (s *Server) handleAPIDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	current, ok, err := queryInt64(r, "current")
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "current scan id is required")
		return
	}
	baseline, ok, err := queryInt64(r, "baseline")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid baseline scan id")
		return
	}
	if !ok {
		scan, err := s.db.GetScan(r.Context(), current)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if scan == nil {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		prev, err := s.db.LastCompletedScan(r.Context(), scan.Target, scan.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if prev == nil {
			writeError(w, http.StatusNotFound, "no earlier completed scan of "+scan.Target)
			return
		}
		baseline = prev.ID
	}

	cs, err := s.detector.Diff(r.Context(), baseline, current)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	host := q.Get("host")

	if q.Get("port") == "" {
		recs, err := s.db.ListHistory(r.Context(), host)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(recs))
		return
	}

	if host == "" {
		writeError(w, http.StatusBadRequest, "host is required with port")
		return
	}
	port, err := strconv.Atoi(q.Get("port"))
	if err != nil || port < 0 || port > 65535 {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}
	proto := q.Get("protocol")
	if proto == "" {
		proto = string(events.ProtocolTCP)
	}

	rec, err := s.db.LookupHistory(r.Context(), database.PortKey{Host: host, Port: port, Protocol: proto})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "endpoint was never seen open")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Report API ---

func (s *Server) handleAPIReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	scanID, ok, err := queryInt64(r, "scan_id")
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "scan_id is required")
		return
	}
	reports, err := s.db.ListReportsByScan(r.Context(), scanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(reports))
}

var contentTypes = map[string]string{
	"json":     "application/json",
	"markdown": "text/markdown; charset=utf-8",
	"pdf":      "application/pdf",
}

// handleAPIReport handles /api/reports/{id} and /api/reports/{id}/download.
func (s *Server) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	parts := strings.SplitN(idStr, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}

	rpt, err := s.db.GetReport(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rpt == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}

	if len(parts) == 1 {
		writeJSON(w, http.StatusOK, rpt)
		return
	}
	if parts[1] != "download" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if ct, ok := contentTypes[rpt.Format]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(rpt.FilePath)+`"`)
	http.ServeFile(w, r, rpt.FilePath)
}
