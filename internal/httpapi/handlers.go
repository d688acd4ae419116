package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"leadetl/internal/commit"
	"leadetl/internal/config"
	"leadetl/internal/dedupe"
	"leadetl/internal/fieldmap"
	"leadetl/internal/intake"
	"leadetl/internal/lead"
	"leadetl/internal/pipeline"
	"leadetl/internal/queue"
	"leadetl/internal/storage"
)

// uploadForm is the multipart part shared by upload, run and import.
type uploadForm struct {
	file       *intake.File
	raw        []byte
	supplierID string
	leadCost   float64
	manual     map[string]string
	tags       []string
}

var errBadForm = errors.New("invalid upload form")

// readUpload parses the multipart request. Problems with the form itself are
// wrapped in errBadForm; file problems carry the intake sentinels.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, parse bool) (uploadForm, error) {
	var f uploadForm
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return f, fmt.Errorf("%w: %w", errBadForm, err)
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		return f, fmt.Errorf("%w: file is required", errBadForm)
	}
	defer file.Close()

	f.supplierID = strings.TrimSpace(r.FormValue("supplier_id"))
	if f.supplierID == "" {
		return f, fmt.Errorf("%w: supplier_id is required", errBadForm)
	}
	if v := strings.TrimSpace(r.FormValue("lead_cost")); v != "" {
		c, err := strconv.ParseFloat(strings.TrimPrefix(v, "$"), 64)
		if err != nil || c < 0 {
			return f, fmt.Errorf("%w: lead_cost %q must be a non-negative number", errBadForm, v)
		}
		f.leadCost = c
	}
	if v := r.FormValue("mapping"); v != "" {
		if err := json.Unmarshal([]byte(v), &f.manual); err != nil {
			return f, fmt.Errorf("%w: mapping must be a JSON object of header to field: %w", errBadForm, err)
		}
	}
	for _, t := range strings.Split(r.FormValue("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.tags = append(f.tags, t)
		}
	}

	if f.raw, err = io.ReadAll(file); err != nil {
		return f, fmt.Errorf("%w: read file: %w", errBadForm, err)
	}
	if !parse {
		if len(f.raw) == 0 {
			return f, intake.ErrEmptyFile
		}
		f.file = &intake.File{Name: hdr.Filename}
		return f, nil
	}
	if f.file, err = intake.Parse(hdr.Filename, f.raw); err != nil {
		return f, err
	}
	return f, nil
}

// uploadStatus maps readUpload and Prepare errors to a status code.
func uploadStatus(err error) int {
	switch {
	case errors.Is(err, errBadForm),
		errors.Is(err, intake.ErrEmptyFile),
		errors.Is(err, intake.ErrNoHeaders),
		errors.Is(err, intake.ErrNoDataRows),
		errors.Is(err, intake.ErrUnsupportedType),
		errors.Is(err, fieldmap.ErrInvalidOverride):
		return http.StatusBadRequest
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	// Anything else intake reports is a malformed file.
	return http.StatusUnprocessableEntity
}

type uploadResponse struct {
	Success         bool                  `json:"success"`
	FileName        string                `json:"file_name"`
	Format          intake.Format         `json:"format"`
	SupplierID      string                `json:"supplier_id"`
	LeadCost        float64               `json:"lead_cost"`
	Headers         []string              `json:"headers"`
	Mapping         map[string]lead.Field `json:"mapping"`
	Scores          map[string]float64    `json:"scores"`
	UnmappedHeaders []string              `json:"unmapped_headers"`
	Confidence      float64               `json:"confidence"`
	MappingStats    fieldmap.Stats        `json:"mapping_stats"`
	Rows            []lead.Record         `json:"rows"`
	RowCount        int                   `json:"row_count"`
	Preview         []lead.Record         `json:"preview,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	form, err := s.readUpload(w, r, true)
	if err != nil {
		writeError(w, uploadStatus(err), "upload rejected", err)
		return
	}
	up, err := s.p.Prepare(r.Context(), form.file, form.manual)
	if err != nil {
		writeError(w, uploadStatus(err), "mapping failed", err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Success:         true,
		FileName:        up.FileName,
		Format:          up.Format,
		SupplierID:      form.supplierID,
		LeadCost:        form.leadCost,
		Headers:         up.Mapping.Headers,
		Mapping:         up.Mapping.Fields,
		Scores:          up.Mapping.Scores,
		UnmappedHeaders: up.Mapping.Unmapped,
		Confidence:      up.Mapping.Confidence,
		MappingStats:    up.MappingStats,
		Rows:            up.Rows,
		RowCount:        up.RowCount,
		Preview:         up.Preview,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	form, err := s.readUpload(w, r, true)
	if err != nil {
		writeError(w, uploadStatus(err), "upload rejected", err)
		return
	}
	dryRun, _ := strconv.ParseBool(r.FormValue("dry_run"))
	rep, err := s.p.Run(r.Context(), form.file, pipeline.RunRequest{
		SupplierID: form.supplierID,
		LeadCost:   form.leadCost,
		Manual:     form.manual,
		Tags:       form.tags,
		DryRun:     dryRun,
	})
	if err != nil {
		status := uploadStatus(err)
		if status == http.StatusUnprocessableEntity {
			status = http.StatusInternalServerError
		}
		writeError(w, status, "run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		pipeline.Report
	}{Success: rep.Stats.Status != storage.StatusFailed, Report: rep})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "import queue is not configured", nil)
		return
	}
	form, err := s.readUpload(w, r, false)
	if err != nil {
		writeError(w, uploadStatus(err), "upload rejected", err)
		return
	}

	dir := s.cfg.SpoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	id := uuid.NewString()
	path := filepath.Join(dir, id+"-"+filepath.Base(form.file.Name))
	if err := os.WriteFile(path, form.raw, 0o640); err != nil {
		writeError(w, http.StatusInternalServerError, "spool upload", err)
		return
	}
	task, err := s.queue.Publish(r.Context(), queue.Task{
		ID:         id,
		FilePath:   path,
		FileName:   form.file.Name,
		SupplierID: form.supplierID,
		LeadCost:   form.leadCost,
		Tags:       form.tags,
		Mapping:    form.manual,
	})
	if err != nil {
		os.Remove(path)
		writeError(w, http.StatusBadGateway, "enqueue import", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "task": task})
}

type recordsRequest struct {
	Records []lead.Record `json:"records"`
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	var req recordsRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := s.p.CheckDuplicates(r.Context(), req.Records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "duplicate check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		dedupe.Result
	}{Success: true, Result: res})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	stage, err := pipeline.ParseStage(r.PathValue("stage"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown stage", err)
		return
	}
	var rules any
	switch stage {
	case pipeline.Cleaning:
		rules = s.p.Rules.Cleaning
	case pipeline.Normalization:
		rules = s.p.Rules.Normalization
	case pipeline.Tagging:
		rules = s.p.Rules.Tagging
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stage": stage, "rules": rules})
}

type processRequest struct {
	Data      []lead.Record             `json:"data"`
	Overrides map[string]config.Options `json:"overrides"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	stage, err := pipeline.ParseStage(r.PathValue("stage"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown stage", err)
		return
	}
	var req processRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := s.p.RunStage(r.Context(), stage, req.Data, req.Overrides)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(stage)+" failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		pipeline.StageResult
	}{Success: true, StageResult: res})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if s.p.Committer == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured", nil)
		return
	}
	var req commit.Request
	if err := s.decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := s.p.Committer.Commit(r.Context(), req)
	switch {
	case errors.Is(err, commit.ErrNoRecords), errors.Is(err, commit.ErrMissingSupplier):
		writeError(w, http.StatusBadRequest, "invalid commit request", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "commit failed", err)
		return
	}

	status := http.StatusOK
	body := struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
		Details string `json:"details,omitempty"`
		commit.Result
	}{Success: true, Result: res}
	if res.Status == storage.StatusFailed {
		status = http.StatusInternalServerError
		body.Success = false
		body.Error = "no records were inserted"
		body.Details = strings.Join(res.Errors, "; ")
	}
	writeJSON(w, status, body)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured", nil)
		return
	}
	b, err := s.store.GetBatch(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "batch not found", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "load batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "batch": b})
}
