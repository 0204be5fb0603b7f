// Package httpapi exposes a document store over HTTP.
//
// Routes:
//
//	GET    /docs/{id}                 document content with _id and _rev
//	HEAD   /docs/{id}                 200 if the document exists, else 404
//	PUT    /docs/{id}[?override=true] create under id, replacing when override is set
//	POST   /docs                      create with a store-assigned id
//	DELETE /docs/{id}                 delete the document
//
// Failures are returned as {"error", "kind", "status"} where status is the
// store error status and the HTTP status is derived from the kind.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jacentio/sofa/store"
)

// Documents is the subset of *store.Store served over HTTP.
type Documents interface {
	Get(ctx context.Context, id string) (*store.Document, error)
	Exists(ctx context.Context, id string) (bool, error)
	Put(ctx context.Context, content any, opts store.PutOptions) (*store.Document, error)
	Delete(ctx context.Context, id string) error
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Server routes HTTP requests to a document store.
type Server struct {
	router *mux.Router
	docs   Documents
	logger *slog.Logger
}

// NewServer creates a Server over docs.
func NewServer(docs Documents, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: mux.NewRouter(),
		docs:   docs,
		logger: logger,
	}

	s.router.HandleFunc("/docs", s.createDocument).Methods(http.MethodPost)
	s.router.HandleFunc("/docs/{id}", s.getDocument).Methods(http.MethodGet)
	s.router.HandleFunc("/docs/{id}", s.headDocument).Methods(http.MethodHead)
	s.router.HandleFunc("/docs/{id}", s.putDocument).Methods(http.MethodPut)
	s.router.HandleFunc("/docs/{id}", s.deleteDocument).Methods(http.MethodDelete)
	s.router.Use(s.logRequests)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type writeResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev,omitempty"`
}

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Status int    `json:"status"`
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(doc.Rev()))
	s.writeJSON(w, http.StatusOK, doc.Snapshot())
}

func (s *Server) headDocument(w http.ResponseWriter, r *http.Request) {
	ok, err := s.docs.Exists(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(httpStatus(err))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) putDocument(w http.ResponseWriter, r *http.Request) {
	override, _ := strconv.ParseBool(r.URL.Query().Get("override"))
	s.create(w, r, store.PutOptions{ID: mux.Vars(r)["id"], Override: override})
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, store.PutOptions{})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, opts store.PutOptions) {
	var content any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&content); err != nil {
		s.writeError(w, &store.Error{
			Kind:     store.KindInvalidContent,
			Status:   store.StatusInvalidContent,
			Subject:  "body",
			Expected: "JSON object",
		})
		return
	}

	doc, err := s.docs.Put(r.Context(), content, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(doc.Rev()))
	s.writeJSON(w, http.StatusCreated, writeResult{OK: true, ID: doc.ID(), Rev: doc.Rev()})
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.docs.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, writeResult{OK: true, ID: id})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: "internal", Status: http.StatusInternalServerError}
	var e *store.Error
	if errors.As(err, &e) {
		body.Kind = e.Kind.String()
		body.Status = e.Status
	} else {
		s.logger.Error("unmapped store error", "error", err)
		body.Error = "internal error"
	}
	s.writeJSON(w, httpStatus(err), body)
}

// httpStatus derives the response status from a store error kind.
func httpStatus(err error) int {
	switch store.KindOf(err) {
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindAlreadyExists, store.KindConflict:
		return http.StatusConflict
	case store.KindInvalidContent:
		return http.StatusBadRequest
	case store.KindUnavailable, store.KindDatabaseNotFound:
		return http.StatusServiceUnavailable
	case store.KindAuth:
		return http.StatusBadGateway
	case store.KindConnection:
		var e *store.Error
		if errors.As(err, &e) && e.Status == store.StatusTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
