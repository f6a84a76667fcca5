package api

import "net/http"

// handleListTopics returns statistics for every topic observed since
// process start.
func (s *Server) handleListTopics(w http.ResponseWriter, _ *http.Request) {
	topics := toTopicDTOs(s.registry.Topics())
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"count":  len(topics),
	})
}

// handleStatus returns the derived broker status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}
