package realtime

import (
	"encoding/json"
	"net/http"

	"pm-assistant/internal/session"
)

type sessionDetail struct {
	session.Session
	LastQuery string `json:"lastQuery,omitempty"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Clients        int    `json:"clients"`
	ActiveSessions int    `json:"activeSessions"`
	DirectorySize  int    `json:"directorySize"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionMgr.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessionMgr.Get(id)
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	detail := sessionDetail{Session: sess}
	if last, ok, err := s.sessionMgr.LastTurn(id); err == nil && ok {
		detail.LastQuery = last.Query
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := s.sessionMgr.History(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessionMgr.Close(r.PathValue("id")); err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"closed"}`))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Clients:        s.ClientCount(),
		ActiveSessions: s.sessionMgr.ActiveCount(),
		DirectorySize:  s.directory.Len(),
	})
}
