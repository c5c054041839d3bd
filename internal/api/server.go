// Package api exposes the approval and rollback control surface over
// HTTP for the dashboard.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/pipeline"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/preview"
)

// Server is the approval/rollback HTTP API.
type Server struct {
	pipe       *pipeline.Pipeline
	previews   *preview.Store
	httpServer *http.Server
}

// NewServer builds the API server over the pipeline and preview store.
func NewServer(pipe *pipeline.Pipeline, previews *preview.Store) *Server {
	return &Server{pipe: pipe, previews: previews}
}

// Start blocks serving the API on addr.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/previews", s.handleListPreviews)
	mux.HandleFunc("/api/previews/", s.handlePreviewAction)
	mux.HandleFunc("/api/actions/", s.handleRollback)
	mux.HandleFunc("/api/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.enableCORS(mux),
	}

	log.Printf("API server listening on: %s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the API server with a timeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GET /api/previews?session_id=
func (s *Server) handleListPreviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not supported", http.StatusMethodNotAllowed)
		return
	}
	pending := s.previews.PendingPreviews(r.URL.Query().Get("session_id"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"previews": pending})
}

// POST /api/previews/{id}/approve | reject | execute
func (s *Server) handlePreviewAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not supported", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	previewID, verb := parts[2], parts[3]
	log.Printf("Preview request: %s %s", verb, previewID)

	switch verb {
	case "approve":
		var req preview.ApprovalRequest
		decodeBody(r, &req)
		req.PreviewID = previewID
		approved, err := s.previews.ApprovePreview(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, approved)

	case "reject":
		var req struct {
			RejectedBy string `json:"rejected_by"`
			Reason     string `json:"reason"`
		}
		decodeBody(r, &req)
		if err := s.previews.RejectPreview(previewID, req.RejectedBy, req.Reason); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rejected": true})

	case "execute":
		result := s.pipe.ExecutePreview(r.Context(), previewID, contextFromRequest(r))
		writeJSON(w, http.StatusOK, result)

	default:
		http.Error(w, "Invalid path", http.StatusBadRequest)
	}
}

// POST /api/actions/{id}/rollback
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not supported", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[3] != "rollback" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	rollbackID := parts[2]
	log.Printf("Rollback request on state: %s", rollbackID)

	result := s.pipe.RollbackAction(r.Context(), rollbackID, contextFromRequest(r))
	writeJSON(w, http.StatusOK, result)
}

// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not supported", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Stats())
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func contextFromRequest(r *http.Request) models.ExecutionContext {
	return models.ExecutionContext{
		SessionID: r.URL.Query().Get("session_id"),
		UserID:    r.URL.Query().Get("user_id"),
		RequestID: r.Header.Get("X-Request-Id"),
	}
}

func decodeBody(r *http.Request, v interface{}) {
	if r.Body == nil {
		return
	}
	defer r.Body.Close()
	// An empty or malformed body falls back to zero values; the store
	// validates what actually matters.
	_ = json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	actionErr := models.AsActionError(err)
	status := http.StatusBadRequest
	if actionErr.Code == models.CodePreviewNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]interface{}{"error": actionErr})
}
