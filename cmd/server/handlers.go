package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
	"github.com/stokerhq/stoker/internal"
)

// Server is the HTTP front end over the engine. Identity arrives in headers
// set by the authenticating proxy; the server itself performs no login.
type Server struct {
	engine      stoker.Engine
	store       *internal.PostgresStore
	permissions stoker.PermissionsProvider
	mux         *http.ServeMux
}

// NewServer creates a new Server instance.
func NewServer(engine stoker.Engine, store *internal.PostgresStore, permissions stoker.PermissionsProvider) *Server {
	return &Server{
		engine:      engine,
		store:       store,
		permissions: permissions,
		mux:         http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/v1/records/", s.handleRecords)
	s.mux.HandleFunc("/api/v1/rebuild/", s.handleRebuild)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// Start starts the HTTP server on the given port.
func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

// identityFromRequest builds the caller identity from trusted proxy headers.
// An absent user header marks a server-issued request.
func identityFromRequest(r *http.Request) (stoker.Identity, error) {
	tenant := r.Header.Get("X-Stoker-Tenant")
	if tenant == "" {
		return stoker.Identity{}, errors.New("missing X-Stoker-Tenant header")
	}
	return stoker.Identity{
		Tenant:        tenant,
		CurrentUserID: r.Header.Get("X-Stoker-User"),
		Role:          r.Header.Get("X-Stoker-Role"),
	}, nil
}

// parseRecordPath splits /api/v1/records/{collection}/{id}/... into the
// collection path and document ID. A trailing collection segment (no ID) is
// allowed for POST.
func parseRecordPath(urlPath, prefix string) (collectionPath []string, docID string, err error) {
	rest := strings.Trim(strings.TrimPrefix(urlPath, prefix), "/")
	if rest == "" {
		return nil, "", errors.New("missing collection path")
	}
	segments := strings.Split(rest, "/")
	if len(segments)%2 == 0 {
		// Ends on a document ID.
		return segments[:len(segments)-1], segments[len(segments)-1], nil
	}
	return segments, "", nil
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collectionPath, docID, err := parseRecordPath(r.URL.Path, "/api/v1/records/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	perms, err := s.lookupPermissions(r, identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		if docID == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing document id"))
			return
		}
		record, err := s.engine.GetRecord(ctx, &stoker.ReadRequest{
			Identity:       identity,
			Permissions:    perms,
			CollectionPath: collectionPath,
			DocID:          docID,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)

	case http.MethodPost:
		data, ok := decodeBody(w, r)
		if !ok {
			return
		}
		req := &stoker.WriteRequest{
			Identity:       identity,
			Permissions:    perms,
			CollectionPath: collectionPath,
			DocID:          docID,
			Data:           data,
		}
		record, err := s.engine.CreateRecord(ctx, req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		// The engine writes a generated ID back into the request.
		w.Header().Set("Location",
			"/api/v1/records/"+strings.Join(append(collectionPath, req.DocID), "/"))
		writeJSON(w, http.StatusCreated, record)

	case http.MethodPatch, http.MethodPut:
		if docID == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing document id"))
			return
		}
		data, ok := decodeBody(w, r)
		if !ok {
			return
		}
		record, err := s.engine.UpdateRecord(ctx, &stoker.WriteRequest{
			Identity:       identity,
			Permissions:    perms,
			CollectionPath: collectionPath,
			DocID:          docID,
			Data:           data,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)

	case http.MethodDelete:
		if docID == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing document id"))
			return
		}
		err := s.engine.DeleteRecord(ctx, &stoker.WriteRequest{
			Identity:       identity,
			Permissions:    perms,
			CollectionPath: collectionPath,
			DocID:          docID,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collectionPath, docID, err := parseRecordPath(r.URL.Path, "/api/v1/rebuild/")
	if err != nil || docID == "" {
		writeError(w, http.StatusBadRequest, errors.New("rebuild needs a full document path"))
		return
	}
	if err := s.engine.RebuildShadows(r.Context(), identity, collectionPath, docID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lookupPermissions fetches the caller's snapshot; system callers need none.
func (s *Server) lookupPermissions(r *http.Request, identity stoker.Identity) (*stoker.StokerPermissions, error) {
	if identity.IsSystem() || s.permissions == nil {
		return nil, nil
	}
	return s.permissions.Permissions(r.Context(), identity.Tenant, identity.CurrentUserID)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (stoker.Record, bool) {
	var data stoker.Record
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
			return nil, false
		}
	}
	return data, true
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case stoker.IsPermissionDenied(err):
		status = http.StatusForbidden
	case stoker.IsRecordNotFound(err):
		status = http.StatusNotFound
	case stoker.IsValidationError(err), stoker.IsSystemFieldViolation(err), stoker.IsCancelled(err):
		status = http.StatusUnprocessableEntity
	case stoker.IsTransactionConflict(err):
		status = http.StatusConflict
	}

	var se *stoker.StokerError
	if errors.As(err, &se) {
		if se.Code == stoker.ErrCodeCollectionNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{
			"error":   se.Message,
			"code":    se.Code,
			"field":   se.Field,
			"details": se.Details,
		})
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			zap.S().Warnw("response encode failed", "error", err)
		}
	}
}
