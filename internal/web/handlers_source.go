package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/mailmerge/internal/core"
	"github.com/JonMunkholm/mailmerge/internal/logging"
	"github.com/JonMunkholm/mailmerge/internal/source"
)

// sourceInfo is the JSON view of the connected data source.
type sourceInfo struct {
	*core.DataSource
	RecordCount int `json:"recordCount"`
}

// handleUploadSource parses an uploaded CSV, XLSX or JSON file and connects
// it. Form fields: file, and sheet for workbooks.
func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, source.ErrFileTooLarge)
			return
		}
		s.respondError(w, r, &requestError{msg: "invalid multipart form", err: err})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, &requestError{msg: "no file provided", err: err})
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upload.Timeout)
	defer cancel()

	opts := source.Options{MaxBytes: maxSize, Sheet: r.FormValue("sheet")}
	src, err := s.service.LoadSource(ctx, func(ctx context.Context) (*core.DataSource, error) {
		return source.Load(ctx, header.Filename, file, opts)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("data source uploaded",
		"name", header.Filename, "size", header.Size, "records", src.RecordCount())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, sourceInfo{DataSource: src, RecordCount: src.RecordCount()})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.service.DataSource()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sourceInfo{DataSource: src, RecordCount: src.RecordCount()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.service.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Fields())
}

// handleUpdateField replaces type, format, validation and favorite of one
// field. The name comes from the path.
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var f core.Field
	if err := decodeJSON(w, r, &f); err != nil {
		s.respondError(w, r, err)
		return
	}
	f.Name = chi.URLParam(r, "name")
	if f.Type != "" && !f.Type.Valid() {
		s.respondError(w, r, &requestError{msg: "unknown field type " + strconv.Quote(string(f.Type))})
		return
	}

	updated, err := s.service.UpdateField(f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, updated)
}

// pageQuery are the pagination parameters of /api/records.
type pageQuery struct {
	Offset int `validate:"gte=0"`
	Limit  int `validate:"gte=0,lte=1000"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := pageQuery{Limit: 50}
	var err error
	if v := r.URL.Query().Get("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil {
			s.respondError(w, r, &requestError{msg: "offset must be an integer"})
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			s.respondError(w, r, &requestError{msg: "limit must be an integer"})
			return
		}
	}
	if err := requestValidator().Struct(q); err != nil {
		s.respondError(w, r, &requestError{msg: "offset must be >= 0 and limit 0-1000", err: err})
		return
	}

	page, err := s.service.Records(q.Offset, q.Limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, page)
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	issues := s.service.Validate()
	if issues == nil {
		issues = []core.ValidationIssue{}
	}
	writeJSON(w, issues)
}
