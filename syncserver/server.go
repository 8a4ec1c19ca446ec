// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncserver is the reference sync backend: an in-memory HTTP server
// implementing the pull, mutation, and attachment endpoints the client engine
// talks to. It exists for local development and end-to-end tests, not for
// production use.
package syncserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/fieldops/go-fieldsync/internal/auth"
)

type record map[string]any

type mutation struct {
	ID      string         `json:"id"`
	Op      string         `json:"op"`
	Payload map[string]any `json:"payload,omitempty"`
}

type mutationResult struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ServerID string `json:"serverId,omitempty"`
	Message  string `json:"message,omitempty"`
}

type attachmentUpload struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"workOrderId,omitempty"`
	AnswerID    string `json:"answerId,omitempty"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
	Base64Data  string `json:"base64Data"`
}

// Server holds the authoritative record set, keyed by entity name then
// record id. Everything lives in memory.
type Server struct {
	jwtAuth *JWTAuth
	logger  *slog.Logger

	mu      sync.RWMutex
	records map[string]map[string]record
	files   map[string]string // attachment id -> remote path
}

// NewServer creates the reference server with the given JWT secret.
func NewServer(jwtSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		jwtAuth: NewJWTAuth(jwtSecret),
		logger:  logger,
		records: make(map[string]map[string]record),
		files:   make(map[string]string),
	}
}

// Auth exposes the server's JWT authenticator, used to mint client tokens.
func (s *Server) Auth() *JWTAuth { return s.jwtAuth }

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Group(func(r chi.Router) {
		r.Use(s.jwtAuth.Middleware)
		r.Get("/sync/{entity}", s.handlePull)
		r.Post("/sync/{entity}/mutations", s.handleMutations)
		r.Post("/attachments", s.handleAttachmentUpload)
	})
	return r
}

// Seed inserts a record directly, bypassing the mutation flow. Used to stage
// server-side state in development and tests.
func (s *Server) Seed(entity string, rec map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.New().String()
		rec["id"] = id
	}
	if rec["updatedAt"] == nil {
		rec["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.entityRecords(entity)[id] = rec
}

// Get returns a stored record by entity and id.
func (s *Server) Get(entity, id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entityRecords(entity)[id]
	return rec, ok
}

// entityRecords must be called with mu held.
func (s *Server) entityRecords(entity string) map[string]record {
	if s.records[entity] == nil {
		s.records[entity] = make(map[string]record)
	}
	return s.records[entity]
}

// handlePull returns records newer than the since cursor, scoped to the
// authenticated technician, ordered by updatedAt.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	ident, _ := auth.FromContext(r.Context())
	technicianID := ident.TechnicianID

	scope := r.URL.Query().Get("scope")
	if scope != "" && scope != technicianID {
		writeError(w, http.StatusForbidden, "scope does not match token subject")
		return
	}
	since := r.URL.Query().Get("since")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	s.mu.RLock()
	var out []record
	for _, rec := range s.entityRecords(entity) {
		if owner, ok := rec["technicianId"].(string); ok && owner != technicianID {
			continue
		}
		if updatedAt(rec) <= since {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return updatedAt(out[i]) < updatedAt(out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}

	writeJSON(w, map[string]any{"records": out})
}

// handleMutations applies a client mutation batch and returns one result per
// mutation in submission order. A CREATE gets a server-assigned id, reported
// back as serverId so the client can remap its temporary one.
func (s *Server) handleMutations(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	ident, _ := auth.FromContext(r.Context())

	var req struct {
		Mutations []mutation `json:"mutations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	recs := s.entityRecords(entity)
	results := make([]mutationResult, 0, len(req.Mutations))
	for _, m := range req.Mutations {
		results = append(results, s.applyMutation(recs, ident.TechnicianID, m))
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"results": results})
}

func (s *Server) applyMutation(recs map[string]record, technicianID string, m mutation) mutationResult {
	switch m.Op {
	case "CREATE":
		serverID := uuid.New().String()
		rec := record{}
		for k, v := range m.Payload {
			rec[k] = v
		}
		rec["id"] = serverID
		rec["technicianId"] = technicianID
		if rec["updatedAt"] == nil {
			rec["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
		}
		recs[serverID] = rec
		return mutationResult{ID: m.ID, Status: "ok", ServerID: serverID}

	case "UPDATE":
		rec, ok := recs[m.ID]
		if !ok {
			return mutationResult{ID: m.ID, Status: "rejected", Message: "unknown record"}
		}
		if owner, _ := rec["technicianId"].(string); owner != "" && owner != technicianID {
			return mutationResult{ID: m.ID, Status: "rejected", Message: "record belongs to another technician"}
		}
		for k, v := range m.Payload {
			if k == "id" {
				continue
			}
			rec[k] = v
		}
		return mutationResult{ID: m.ID, Status: "ok"}

	case "DELETE":
		delete(recs, m.ID)
		return mutationResult{ID: m.ID, Status: "ok"}

	default:
		return mutationResult{ID: m.ID, Status: "rejected", Message: fmt.Sprintf("unknown op %q", m.Op)}
	}
}

// handleAttachmentUpload accepts one base64 binary payload and answers with
// its remote path.
func (s *Server) handleAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())

	var upload attachmentUpload
	if err := json.NewDecoder(r.Body).Decode(&upload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if upload.ID == "" || upload.FileName == "" || upload.Base64Data == "" {
		writeError(w, http.StatusBadRequest, "id, fileName and base64Data are required")
		return
	}

	remotePath := fmt.Sprintf("/files/%s/%s/%s", ident.TechnicianID, upload.ID, upload.FileName)
	s.mu.Lock()
	s.files[upload.ID] = remotePath
	s.mu.Unlock()
	s.logger.Debug("attachment stored", "attachment", upload.ID, "path", remotePath)

	writeJSON(w, map[string]any{"remotePath": remotePath})
}

func updatedAt(rec record) string {
	v, _ := rec["updatedAt"].(string)
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
