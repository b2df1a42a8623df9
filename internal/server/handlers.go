package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/pipeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readMultipartFiles collects the uploaded "files" parts, enforcing the
// request size cap.
func (s *Server) readMultipartFiles(w http.ResponseWriter, r *http.Request) ([]pipeline.UploadFile, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return nil, false
	}

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return nil, false
	}

	files := make([]pipeline.UploadFile, 0, len(parts))
	for _, part := range parts {
		f, err := part.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+part.Filename)
			return nil, false
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+part.Filename)
			return nil, false
		}
		files = append(files, pipeline.UploadFile{Name: part.Filename, Content: content})
	}
	return files, true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	files, ok := s.readMultipartFiles(w, r)
	if !ok {
		return
	}
	label := r.FormValue("label")

	result, err := s.pipeline.Upload(r.Context(), label, files)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleCheckDuplicates(w http.ResponseWriter, r *http.Request) {
	files, ok := s.readMultipartFiles(w, r)
	if !ok {
		return
	}

	dups, err := s.pipeline.CheckDuplicates(r.Context(), files)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checked":    len(files),
		"duplicates": dups,
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.pipeline.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	detail, err := s.pipeline.Describe(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSetLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	batchID := chi.URLParam(r, "batchID")
	if err := s.pipeline.SetLabel(r.Context(), batchID, req.Label); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "custom_label": req.Label})
}

func (s *Server) handleSetKBName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KBName string `json:"kb_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	batchID := chi.URLParam(r, "batchID")
	if err := s.pipeline.SetKBName(r.Context(), batchID, req.KBName); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "kb_name": req.KBName})
}

func (s *Server) handleResetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	ctx, release, err := s.manager.Begin(r.Context(), "reset")
	if err != nil {
		respondError(w, err)
		return
	}
	defer release()

	if err := s.pipeline.Reset(ctx, batchID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "status": "reset"})
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	ctx, release, err := s.manager.Begin(r.Context(), "delete")
	if err != nil {
		respondError(w, err)
		return
	}
	defer release()

	if err := s.pipeline.Delete(ctx, batchID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "status": "deleted"})
}

func (s *Server) handleCleanupScan(w http.ResponseWriter, r *http.Request) {
	minFiles := s.minCleanupFiles
	if v := r.URL.Query().Get("min_files"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid min_files")
			return
		}
		minFiles = n
	}

	entries, err := s.pipeline.Scan(r.Context(), minFiles)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": entries})
}

func (s *Server) handleCleanupRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		MinFiles *int   `json:"min_files"`
		DryRun   bool   `json:"dry_run"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	minFiles := s.minCleanupFiles
	if req.MinFiles != nil {
		minFiles = *req.MinFiles
	}

	ctx, release, err := s.manager.Begin(r.Context(), "cleanup")
	if err != nil {
		respondError(w, err)
		return
	}
	defer release()

	report, err := s.pipeline.Cleanup(ctx, pipeline.BatchCategory(req.Category), minFiles, req.DryRun)
	if err != nil {
		respondError(w, err)
		return
	}
	zap.L().Info("cleanup requested",
		zap.String("category", req.Category),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("matched", len(report.Matched)),
	)
	writeJSON(w, http.StatusOK, report)
}
