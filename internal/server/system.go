package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/model"
)

type versionResponse struct {
	BmdsUIVersion     string             `json:"bmds_ui_version"`
	BmdsPythonVersion *model.VersionInfo `json:"bmds_python_version"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := versionResponse{BmdsUIVersion: s.version}
	info, err := s.engine.Version(ctx)
	if err != nil {
		zap.L().Warn("server: engine version unavailable", zap.Error(err))
	} else {
		resp.BmdsPythonVersion = info
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// handleWorkerHealth reports worker heartbeats. Without a worker, runs
// execute inline and the check always passes.
func (s *Server) handleWorkerHealth(w http.ResponseWriter, r *http.Request) error {
	if s.worker == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
		return nil
	}
	healthy, err := s.worker.Healthy(r.Context())
	if err != nil {
		zap.L().Warn("server: worker health check failed", zap.Error(err))
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
	return nil
}
