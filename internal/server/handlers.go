package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BadgerOps/jarenums/internal/filter"
	"github.com/BadgerOps/jarenums/internal/report"
	"github.com/BadgerOps/jarenums/internal/safety"
	"github.com/BadgerOps/jarenums/internal/scan"
	"github.com/BadgerOps/jarenums/internal/store"
)

const defaultListLimit = 20

// scanJSON is the JSON shape of a recorded scan.
type scanJSON struct {
	ID              string     `json:"id"`
	Archive         string     `json:"archive"`
	SHA256          string     `json:"sha256"`
	Size            int64      `json:"size"`
	Filter          string     `json:"filter"`
	Marker          string     `json:"marker"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	ArchivesVisited int        `json:"archives_visited"`
	ClassesParsed   int        `json:"classes_parsed"`
	EnumCount       int        `json:"enum_count"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// scanResponse is returned by POST /api/scans.
type scanResponse struct {
	Scan   scanJSON       `json:"scan"`
	Report *report.Report `json:"report,omitempty"`
	Reused bool           `json:"reused,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func toScanJSON(run store.ScanRun) scanJSON {
	out := scanJSON{
		ID:              run.ID,
		Archive:         run.Archive,
		SHA256:          run.SHA256,
		Size:            run.Size,
		Filter:          run.Filter,
		Marker:          run.Marker,
		StartTime:       run.StartTime,
		ArchivesVisited: run.ArchivesVisited,
		ClassesParsed:   run.ClassesParsed,
		EnumCount:       run.EnumCount,
		Status:          run.Status,
		ErrorMessage:    run.ErrorMessage,
	}
	if !run.EndTime.IsZero() {
		end := run.EndTime
		out.EndTime = &end
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListScans returns recorded scans, newest first.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListScans(limit)
	if err != nil {
		s.logger.Error("failed to list scans", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]scanJSON, 0, len(runs))
	for _, run := range runs {
		response = append(response, toScanJSON(run))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toScanJSON(*run))
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteScan(run.ID); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("scan deleted", "run", run.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReport renders the stored report of a completed scan. The format
// and compression query parameters select the rendering; JSON is the default.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := report.ParseFormat(q.Get("format"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	compression, err := report.ParseCompression(q.Get("compression"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	if run.Status != store.StatusCompleted {
		jsonError(w, http.StatusConflict, "scan "+run.ID+" is "+run.Status)
		return
	}

	rep, err := s.store.GetReport(run.ID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType(format, compression))
	if err := report.Write(w, rep, format, compression); err != nil {
		s.logger.Error("failed to write report", "run", run.ID, "error", err)
	}
}

// handleCreateScan scans the archive in the request body and records the
// run. Query parameters: name (recorded as the archive), pattern or script
// (override the configured filter), reuse=true (answer from a completed scan
// of the same bytes when there is one).
func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filterOpts, err := s.filterOptions(q.Get("pattern"), q.Get("script"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ev, err := filter.New(filterOpts)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := s.scanOptions()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	limit, err := s.config.MaxUploadBytes()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := safety.ReadAllWithLimit(r.Body, limit)
	if err != nil {
		if errors.Is(err, safety.ErrTooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		jsonError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(data) == 0 {
		jsonError(w, http.StatusBadRequest, "archive body required")
		return
	}

	h := sha256.Sum256(data)
	digest := hex.EncodeToString(h[:])

	if q.Get("reuse") == "true" {
		prev, err := s.store.FindCompletedScan(digest, opts.Marker, filterOpts.String())
		if err == nil {
			rep, err := s.store.GetReport(prev.ID)
			if err != nil {
				jsonError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, scanResponse{Scan: toScanJSON(*prev), Report: rep, Reused: true})
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	name := q.Get("name")
	if name == "" {
		name = "upload"
	}
	run := &store.ScanRun{
		Archive: name,
		SHA256:  digest,
		Size:    int64(len(data)),
		Filter:  filterOpts.String(),
		Marker:  opts.Marker,
	}
	if err := s.store.CreateScan(run); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	scanner := scan.New(opts, ev, s.logger)
	rep, scanErr := scanner.ScanBytes(r.Context(), data)

	stats := scanner.Stats()
	run.EndTime = time.Now().UTC()
	run.ArchivesVisited = stats.Archives
	run.ClassesParsed = stats.Classes

	if scanErr != nil {
		run.Status = store.StatusFailed
		run.ErrorMessage = scanErr.Error()
		if err := s.store.UpdateScan(run); err != nil {
			s.logger.Error("failed to record scan failure", "run", run.ID, "error", err)
		}
		s.logger.Warn("uploaded archive scan failed", "run", run.ID, "archive", name, "error", scanErr)
		writeJSON(w, http.StatusUnprocessableEntity, scanResponse{Scan: toScanJSON(*run), Error: scanErr.Error()})
		return
	}

	if err := s.store.SaveReport(run.ID, rep); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	run.Status = store.StatusCompleted
	run.EnumCount = len(rep.Enums)
	if err := s.store.UpdateScan(run); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("uploaded archive scanned", "run", run.ID, "archive", name, "enums", run.EnumCount)
	writeJSON(w, http.StatusCreated, scanResponse{Scan: toScanJSON(*run), Report: rep})
}

// lookupScan resolves the {id} path value, which may be a unique prefix. It
// writes the error response itself when ok is false.
func (s *Server) lookupScan(w http.ResponseWriter, r *http.Request) (*store.ScanRun, bool) {
	id, err := s.store.ResolveScanID(r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			jsonError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, store.ErrAmbiguousID):
			jsonError(w, http.StatusConflict, err.Error())
		default:
			jsonError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	run, err := s.store.GetScan(id)
	if err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return run, true
}

// filterOptions uses the request's pattern or script when either is given,
// otherwise the configured filter.
func (s *Server) filterOptions(pattern, script string) (filter.Options, error) {
	if pattern != "" || script != "" {
		return filter.Options{Pattern: pattern, Script: script}, nil
	}
	cfgScript, err := s.config.FilterScript()
	if err != nil {
		return filter.Options{}, err
	}
	return filter.Options{Pattern: s.config.Filter.Pattern, Script: cfgScript}, nil
}

func (s *Server) scanOptions() (scan.Options, error) {
	maxEntry, err := s.config.MaxEntryBytes()
	if err != nil {
		return scan.Options{}, err
	}
	return scan.Options{
		ClassesRoot:    s.config.Scan.ClassesRoot,
		ClasspathIndex: s.config.Scan.ClasspathIndex,
		Marker:         s.config.Scan.MarkerDescriptor,
		MaxEntrySize:   maxEntry,
	}, nil
}

func contentType(format report.Format, compression report.Compression) string {
	switch compression {
	case report.CompressionZstd:
		return "application/zstd"
	case report.CompressionXZ:
		return "application/x-xz"
	}
	if format == report.FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
