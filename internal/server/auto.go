package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/model"
	"github.com/relayhq/emlpipe/internal/pipeline"
	"github.com/relayhq/emlpipe/internal/resilience"
)

// stageFunc is the shape shared by Clean, LLMProcess and UploadKB.
type stageFunc func(ctx context.Context, batchID string, opts ...pipeline.RunOption) (*model.StageResult, error)

// stageRequest is the trigger body for the auto endpoints. batch_ids is a
// list for wire compatibility with the console, but exactly one id is
// accepted per run.
type stageRequest struct {
	BatchIDs     []string `json:"batch_ids"`
	SkipIfExists *bool    `json:"skip_if_exists"`
}

// batchID validates the request and returns the single batch id, writing a
// 400 and returning ok=false when the input is malformed.
func (req *stageRequest) batchID(w http.ResponseWriter) (string, bool) {
	switch {
	case len(req.BatchIDs) == 0 || req.BatchIDs[0] == "":
		writeError(w, http.StatusBadRequest, "batch_ids must name a batch")
		return "", false
	case len(req.BatchIDs) > 1:
		writeError(w, http.StatusBadRequest, "only one batch id is accepted per run")
		return "", false
	}
	return req.BatchIDs[0], true
}

func (req *stageRequest) options() []pipeline.RunOption {
	if req.SkipIfExists == nil {
		return nil
	}
	return []pipeline.RunOption{pipeline.WithSkipIfExists(*req.SkipIfExists)}
}

// runStage builds a handler that runs one stage synchronously under the
// single-flight manager. The stage result is returned even when the stage
// aborted partway, so the console can show per-file failures.
func (s *Server) runStage(op string, run stageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		batchID, ok := req.batchID(w)
		if !ok {
			return
		}

		ctx, release, err := s.manager.Begin(r.Context(), op)
		if err != nil {
			respondError(w, err)
			return
		}
		defer release()

		result, err := run(ctx, batchID, req.options()...)
		if err != nil {
			if errors.Is(err, resilience.ErrOutage) && result != nil {
				zap.L().Warn("stage aborted on outage",
					zap.String("op", op),
					zap.String("batch_id", batchID),
				)
				writeJSON(w, http.StatusBadGateway, result)
				return
			}
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	batchID, ok := req.batchID(w)
	if !ok {
		return
	}

	ctx, release, err := s.manager.Begin(r.Context(), "process")
	if err != nil {
		respondError(w, err)
		return
	}
	defer release()

	result, err := s.pipeline.Process(ctx, batchID, req.options()...)
	if err != nil {
		if errors.Is(err, resilience.ErrOutage) && result != nil {
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.manager.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	batchID := r.URL.Query().Get("batch_id")
	stage := model.Stage(r.URL.Query().Get("stage"))
	if batchID == "" || !stage.Valid() {
		writeError(w, http.StatusBadRequest, "batch_id and a valid stage are required")
		return
	}

	progress, ok := s.pipeline.Progress().Get(batchID, stage)
	op, running := s.manager.Running()

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batchID,
		"stage":    stage,
		"known":    ok,
		"progress": progress,
		"running":  running,
		"op":       op,
	})
}
