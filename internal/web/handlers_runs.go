package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/mailmerge/internal/archive"
	"github.com/JonMunkholm/mailmerge/internal/core"
	"github.com/JonMunkholm/mailmerge/internal/logging"
	"github.com/JonMunkholm/mailmerge/internal/web/templates"
)

var errNoOutput = errors.New("run has no output to download")

// defaultGeneration returns the server's generation defaults. A request body
// is decoded over it, so omitted fields keep these values.
func (s *Server) defaultGeneration() core.GenerationConfig {
	cfg := core.DefaultGenerationConfig()
	g := s.cfg.Generation
	if g.DefaultFormat != "" {
		cfg.Format = core.OutputFormat(strings.ToLower(g.DefaultFormat))
	}
	if g.DefaultResolution > 0 {
		cfg.Resolution = g.DefaultResolution
	}
	if g.DefaultQuality > 0 {
		cfg.Quality = g.DefaultQuality
	}
	return cfg
}

type formatInfo struct {
	Format      core.OutputFormat `json:"format"`
	Extension   string            `json:"extension"`
	ContentType string            `json:"contentType"`
	Supported   bool              `json:"supported"`
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	all := []core.OutputFormat{core.FormatPDF, core.FormatPNG, core.FormatJPEG, core.FormatSVG, core.FormatWEBP}
	out := make([]formatInfo, 0, len(all))
	for _, f := range all {
		out = append(out, formatInfo{
			Format:      f,
			Extension:   f.Extension(),
			ContentType: f.ContentType(),
			Supported:   s.supports == nil || s.supports(f),
		})
	}
	writeJSON(w, out)
}

// handleGenerate starts a run and answers 202 with its first snapshot.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	cfg := s.defaultGeneration()
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &cfg); err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	run, err := s.service.StartGeneration(r.Context(), cfg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.ForRun(r.Context(), run.ID()).Info("generation requested",
		"format", cfg.Format, "selection", cfg.Selection.Mode)

	w.Header().Set("Location", "/api/runs/"+run.ID())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run.Progress())
}

func (s *Server) runFor(w http.ResponseWriter, r *http.Request) (*core.Run, bool) {
	run, err := s.service.Run(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return run, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := s.runFor(w, r); ok {
		writeJSON(w, run.Progress())
	}
}

func (s *Server) handleActiveRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.service.ActiveRun()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, run.Progress())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.PauseRun)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.ResumeRun)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.CancelRun)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := chi.URLParam(r, "runID")
	if err := op(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	run, err := s.service.Run(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, run.Progress())
}

// handleRunEvents streams progress as server-sent events. Event ids are the
// current record, so a reconnecting client sending Last-Event-ID skips
// snapshots it has seen. A final "complete" event carries the last snapshot.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFor(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	lastID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lastID = n
		}
	}

	updates, unsubscribe := run.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case p, open := <-updates:
			if !open {
				writeEvent(w, "complete", run.Progress())
				flusher.Flush()
				return
			}
			if p.CurrentRecord <= lastID && !p.Finished() && p.Status != core.StatusPaused {
				continue
			}
			lastID = p.CurrentRecord
			writeEvent(w, "progress", p)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, p core.GenerationProgress) {
	data, _ := json.Marshal(p)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", p.CurrentRecord, event, data)
}

// handleDownload serves a finished run's output from the memory sink. An
// archive is served as is; loose files are zipped on the fly. Outputs in
// other sinks are reported by location.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFor(w, r)
	if !ok {
		return
	}
	p := run.Progress()
	if p.Status != core.StatusCompleted || p.Location == "" {
		s.respondError(w, r, fmt.Errorf("%w: run %s is %s", errNoOutput, p.RunID, p.Status))
		return
	}

	if s.downloads == nil || !strings.HasPrefix(p.Location, "mem://") {
		writeJSON(w, map[string]string{"location": p.Location})
		return
	}

	if obj, found := s.downloads.Open(p.Location); found {
		w.Header().Set("Content-Type", contentTypeFor(obj.Name))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(obj.Name)))
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
		w.Write(obj.Data)
		return
	}

	prefix := strings.TrimPrefix(p.Location, "mem://") + "/"
	names := s.downloads.List(prefix)
	if len(names) == 0 {
		s.respondError(w, r, fmt.Errorf("%w: output of %s expired", core.ErrRunNotFound, p.RunID))
		return
	}

	bundle := archive.New(archive.Options{})
	for _, name := range names {
		obj, _ := s.downloads.Open(name)
		if err := bundle.Add(strings.TrimPrefix(name, prefix), obj.Data); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	data, err := bundle.Finish(core.RunMetadata{RunID: p.RunID})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(strings.TrimSuffix(prefix, "/"))+".zip"))
	w.Write(data)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".zip":
		return "application/zip"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	}
	return "application/octet-stream"
}

func (s *Server) historyLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.History(r.Context(), s.historyLimit(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, nonNil(runs))
}

func (s *Server) handleHistoryFragment(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.History(r.Context(), s.historyLimit(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	templates.HistoryTable(runs).Render(r.Context(), w)
}

func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	if run, ok := s.runFor(w, r); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.RunPage(run.Progress()).Render(r.Context(), w)
	}
}

func (s *Server) handleRunFragment(w http.ResponseWriter, r *http.Request) {
	if run, ok := s.runFor(w, r); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.RunProgress(run.Progress()).Render(r.Context(), w)
	}
}
