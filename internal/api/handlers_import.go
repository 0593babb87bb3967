package api

import (
	"net/http"
)

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		jsonError(w, "course import unavailable", http.StatusServiceUnavailable)
		return
	}
	job, ok := s.completedJob(w, r)
	if !ok {
		return
	}

	sum, err := s.importer.Import(r.Context(), job.Plan())
	if err != nil {
		s.log.Error("import failed", "job_id", job.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   err.Error(),
			"summary": sum,
		})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleImportStats(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		jsonError(w, "import stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": s.importer.Stats().Snapshot(),
	})
}
