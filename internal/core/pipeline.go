package core

// pipeline.go implements batch generation.
//
// A run renders its records strictly in order on a single surface. Each
// record starts from the immutable template snapshot, gets its own patch set
// (text, visibility, images) and is rendered, named and added to the bundle.
// Failures inside one record are recovered and counted; only failures outside
// the record boundary (building the surface, finishing the bundle, exporting)
// end the run with status error.
//
// Pause and cancel are cooperative and take effect at record boundaries. A
// paused run polls until resumed and then re-attempts the record it stopped
// before. A cancelled run stops with status paused and Cancelled set; its
// outputs are discarded and the export sink is never called.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval is how often a paused run checks for resume or cancel.
const DefaultPollInterval = 100 * time.Millisecond

// Job is everything a run needs. Records are already selected, filtered and
// sorted; the run never modifies them.
type Job struct {
	Records       []Record
	SourceIndices []int // source position of each record, optional
	Fields        []Field
	Template      Template
	Rules         []ConditionalRule
	Config        GenerationConfig
	SourceName    string
}

// Pipeline starts generation runs. Its collaborators are shared by all runs.
type Pipeline struct {
	NewSurface   SurfaceFactory
	Images       ImageResolver
	Sink         ExportSink
	NewBundle    BundleFactory
	Supports     func(OutputFormat) bool
	PollInterval time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
	OnProgress   ProgressFunc
}

// Start validates the job and starts a run in the background. The run stops
// when it finishes, when Cancel is called or when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, job Job) (*Run, error) {
	if err := job.Config.Validate(); err != nil {
		return nil, err
	}
	if p.Supports != nil && !p.Supports(job.Config.Format) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, job.Config.Format)
	}
	if err := job.Template.Validate(); err != nil {
		return nil, err
	}
	if len(job.Records) == 0 {
		return nil, ErrNoRecords
	}
	if p.NewSurface == nil {
		return nil, errors.New("pipeline has no surface factory")
	}
	if p.Sink == nil {
		return nil, errors.New("pipeline has no export sink")
	}
	if job.Config.CreateArchive && p.NewBundle == nil {
		return nil, errors.New("pipeline has no bundle factory")
	}

	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New().String()
	runCtx, stop := context.WithCancel(ctx)

	// Snapshot the job so callers cannot change it under the run.
	job.Template = job.Template.Clone()

	r := &Run{
		id:    id,
		job:   job,
		p:     p,
		clock: clock,
		poll:  poll,
		log:   logger.With("run_id", id),
		progress: GenerationProgress{
			RunID:          id,
			Status:         StatusGenerating,
			TotalRecords:   len(job.Records),
			GeneratedFiles: make([]GeneratedFile, 0, len(job.Records)),
			StartedAt:      clock(),
		},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		stop: stop,
	}

	r.log.Info("generation started",
		"records", len(job.Records),
		"format", job.Config.Format,
		"archive", job.Config.CreateArchive,
	)

	go r.execute(runCtx)

	return r, nil
}

// Run is the handle of one generation run.
type Run struct {
	id    string
	job   Job
	p     *Pipeline
	clock func() time.Time
	poll  time.Duration
	log   *slog.Logger

	mu        sync.Mutex
	progress  GenerationProgress
	paused    bool
	cancelled bool
	listeners []chan GenerationProgress

	wake chan struct{}
	done chan struct{}
	stop context.CancelFunc
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Job returns the job the run was started with.
func (r *Run) Job() Job {
	return r.job
}

// Done is closed when the run has stopped.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Progress returns the latest snapshot.
func (r *Run) Progress() GenerationProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.clone()
}

// Wait blocks until the run stops or ctx is done and returns the final
// snapshot.
func (r *Run) Wait(ctx context.Context) (GenerationProgress, error) {
	select {
	case <-r.done:
		return r.Progress(), nil
	case <-ctx.Done():
		return r.Progress(), ctx.Err()
	}
}

// Pause asks the run to pause before its next record.
func (r *Run) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishedLocked() {
		return ErrRunNotActive
	}
	r.paused = true
	return nil
}

// Resume continues a paused run with the record it stopped before.
func (r *Run) Resume() error {
	r.mu.Lock()
	if r.finishedLocked() {
		r.mu.Unlock()
		return ErrRunNotActive
	}
	r.paused = false
	r.mu.Unlock()

	r.signal()
	return nil
}

// Cancel asks the run to stop at its next record boundary. The record in
// progress finishes first.
func (r *Run) Cancel() error {
	r.mu.Lock()
	if r.finishedLocked() {
		r.mu.Unlock()
		return ErrRunNotActive
	}
	r.cancelled = true
	r.mu.Unlock()

	r.signal()
	return nil
}

func (r *Run) finishedLocked() bool {
	select {
	case <-r.done:
		return true
	default:
	}
	return r.progress.Finished()
}

func (r *Run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel that receives progress snapshots. A slow
// reader only sees the latest snapshot. The channel is closed when the run
// stops or when the returned func is called.
func (r *Run) Subscribe() (<-chan GenerationProgress, func()) {
	ch := make(chan GenerationProgress, 1)

	r.mu.Lock()
	ch <- r.progress.clone()
	select {
	case <-r.done:
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	r.listeners = append(r.listeners, ch)
	r.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, l := range r.listeners {
				if l == ch {
					r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, unsubscribe
}

// update mutates the snapshot and notifies listeners.
func (r *Run) update(fn func(p *GenerationProgress)) {
	r.mu.Lock()
	fn(&r.progress)
	snapshot := r.progress.clone()
	for _, ch := range r.listeners {
		offer(ch, snapshot)
	}
	r.mu.Unlock()

	if r.p.OnProgress != nil {
		r.p.OnProgress(snapshot)
	}
}

// offer replaces any unread snapshot in ch with p.
func offer(ch chan GenerationProgress, p GenerationProgress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}

// close closes all listener channels and marks the run done. Both happen
// under the lock so a concurrent Subscribe never registers a channel that is
// not closed.
func (r *Run) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	close(r.done)
}

func (r *Run) shouldStop(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || ctx.Err() != nil
}

func (r *Run) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// execute is the run loop.
func (r *Run) execute(ctx context.Context) {
	defer r.stop()
	defer r.close()

	job := r.job
	cfg := job.Config
	total := len(job.Records)

	surface, err := r.p.NewSurface(job.Template)
	if err != nil {
		r.fail(&PipelineError{Stage: "surface", Err: err})
		return
	}

	var bundle Bundle
	var loose []OutputFile
	if cfg.CreateArchive {
		bundle = r.p.NewBundle(r.job.Config)
	}

	rc := &recordContext{
		fields: IndexFields(job.Fields),
		rules:  NewRuleEngine(job.Fields).WithClock(r.clock),
		names:  nameSet{},
	}

	start := r.clock()
	var pausedFor time.Duration

	for i := 0; i < total; {
		if r.shouldStop(ctx) {
			r.abandon()
			return
		}

		if r.isPaused() {
			pausedAt := r.clock()
			if !r.waitWhilePaused(ctx) {
				r.abandon()
				return
			}
			pausedFor += r.clock().Sub(pausedAt)
			continue
		}

		out := r.processRecord(ctx, surface, rc, i)
		if out.data != nil {
			if bundle != nil {
				if err := bundle.Add(out.file.Name, out.data); err != nil {
					out.err = errors.Join(out.err, &RecordError{Index: i, Stage: StageBundle, Err: err})
				}
			} else {
				loose = append(loose, OutputFile{Name: out.file.Name, Data: out.data})
			}
		}
		if out.err != nil {
			out.file.Error = out.err.Error()
			r.log.Warn("record failed", "index", i, "error", out.err)
		}

		i++
		elapsed := r.clock().Sub(start) - pausedFor
		r.update(func(p *GenerationProgress) {
			p.GeneratedFiles = append(p.GeneratedFiles, out.file)
			if out.err != nil {
				p.ErrorCount++
			} else {
				p.SuccessCount++
			}
			p.WarningCount += out.warnings
			setTiming(p, i, total, elapsed)
		})

		runtime.Gosched()
	}

	r.finish(ctx, bundle, loose, start)
}

// setTiming fills the derived progress fields after cur of total records.
func setTiming(p *GenerationProgress, cur, total int, elapsed time.Duration) {
	p.CurrentRecord = cur
	p.Percentage = percent(cur, total)
	p.ElapsedMs = elapsed.Milliseconds()
	if cur > 0 {
		perRecord := float64(elapsed.Milliseconds()) / float64(cur)
		p.EstimatedRemainingMs = int64(math.Round(float64(total-cur) * perRecord))
	}
	if elapsed > 0 {
		p.Speed = float64(cur) / elapsed.Seconds()
	}
}

// waitWhilePaused blocks until the run is resumed (true) or cancelled (false).
func (r *Run) waitWhilePaused(ctx context.Context) bool {
	r.update(func(p *GenerationProgress) { p.Status = StatusPaused })
	r.log.Info("generation paused", "next_record", r.Progress().CurrentRecord)

	for {
		r.mu.Lock()
		paused, cancelled := r.paused, r.cancelled
		r.mu.Unlock()

		if cancelled {
			return false
		}
		if !paused {
			r.update(func(p *GenerationProgress) { p.Status = StatusGenerating })
			r.log.Info("generation resumed")
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-r.wake:
		case <-time.After(r.poll):
		}
	}
}

type recordContext struct {
	fields map[string]Field
	rules  *RuleEngine
	names  nameSet
}

type recordOutcome struct {
	file     GeneratedFile
	data     []byte
	err      error
	warnings int
}

// processRecord renders one record. It never panics and never returns a
// run-level error: everything is captured in the outcome.
func (r *Run) processRecord(ctx context.Context, surface Surface, rc *recordContext, i int) (out recordOutcome) {
	job := r.job
	cfg := job.Config
	rec := job.Records[i]

	out.file = GeneratedFile{RecordIndex: i, Format: cfg.Format}
	if i < len(job.SourceIndices) {
		out.file.RecordIndex = job.SourceIndices[i]
	}

	defer func() {
		if v := recover(); v != nil {
			out.data = nil
			out.err = &RecordError{Index: i, Stage: StagePanic, Err: fmt.Errorf("%v", v)}
		}
	}()

	patches := TextPatches(job.Template, rec, rc.fields)
	patches = append(patches, VisibilityPatches(rc.rules.Visibility(job.Rules, rec))...)

	imagePatches, warnings, imageErr := r.resolveImages(ctx, rec)
	patches = append(patches, imagePatches...)
	out.warnings = len(warnings)
	if len(warnings) > 0 {
		out.file.Warning = warnings[0]
	}
	if imageErr != nil {
		out.err = &RecordError{Index: i, Stage: StageImage, Err: imageErr}
	}

	snapshot := job.Template.Apply(patches)
	if err := surface.Load(snapshot); err != nil {
		out.err = errors.Join(out.err, &RecordError{Index: i, Stage: StageLoad, Err: err})
		return out
	}

	data, err := surface.Render(ctx, RenderOptions{
		Format:     cfg.Format,
		Resolution: cfg.Resolution,
		Quality:    cfg.Quality,
	})
	if err != nil {
		out.err = errors.Join(out.err, &RecordError{Index: i, Stage: StageRender, Err: err})
		return out
	}

	out.file.Name = rc.names.unique(OutputFilename(cfg.FilenamePattern, rec, i, cfg.Format))
	out.file.Size = len(data)
	out.data = data
	return out
}

// resolveImages loads the image bound to each bound image element. Failed
// images keep their placeholder and are reported together; empty bindings
// are warnings.
func (r *Run) resolveImages(ctx context.Context, rec Record) (PatchSet, []string, error) {
	var patches PatchSet
	var warnings []string
	var errs []error

	for _, el := range r.job.Template.Elements {
		if el.Kind != KindImage || el.Image == nil || el.FieldBinding == "" {
			continue
		}
		v := rec[el.FieldBinding]
		if IsEmpty(v) {
			warnings = append(warnings, fmt.Sprintf("element %s: field %s is empty", el.ID, el.FieldBinding))
			continue
		}
		if r.p.Images == nil {
			errs = append(errs, fmt.Errorf("element %s: no image resolver", el.ID))
			continue
		}
		img, err := r.p.Images.ResolveImage(ctx, Stringify(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("element %s: %w", el.ID, err))
			continue
		}
		patches = append(patches, Patch{ElementID: el.ID, Image: img})
	}
	return patches, warnings, errors.Join(errs...)
}

// finish hands the outputs to the sink and completes the run.
func (r *Run) finish(ctx context.Context, bundle Bundle, loose []OutputFile, start time.Time) {
	meta := r.metadata()
	base := outputBaseName(start)

	var location string
	if bundle != nil {
		data, err := bundle.Finish(meta)
		if err != nil {
			r.fail(&PipelineError{Stage: "archive", Err: err})
			return
		}
		location, err = r.p.Sink.Save(ctx, base+".zip", data)
		if err != nil {
			r.fail(&PipelineError{Stage: "export", Err: err})
			return
		}
	} else {
		for _, f := range loose {
			loc, err := r.p.Sink.Save(ctx, path.Join(base, f.Name), f.Data)
			if err != nil {
				r.fail(&PipelineError{Stage: "export", Err: err})
				return
			}
			location = strings.TrimSuffix(loc, "/"+f.Name)
		}
	}

	now := r.clock()
	r.update(func(p *GenerationProgress) {
		p.Status = StatusCompleted
		p.Location = location
		p.FinishedAt = now
	})

	final := r.Progress()
	r.log.Info("generation completed",
		"success", final.SuccessCount,
		"errors", final.ErrorCount,
		"warnings", final.WarningCount,
		"location", location,
		"duration_ms", final.ElapsedMs,
	)
}

// outputBaseName names a run's archive or output directory.
func outputBaseName(start time.Time) string {
	return "mailmerge-" + start.Format("20060102-150405")
}

func (r *Run) metadata() RunMetadata {
	p := r.Progress()
	return RunMetadata{
		RunID:        r.id,
		SourceName:   r.job.SourceName,
		TemplateName: r.job.Template.Name,
		TemplateHash: r.job.Template.Fingerprint(),
		Config:       r.job.Config,
		TotalRecords: p.TotalRecords,
		SuccessCount: p.SuccessCount,
		ErrorCount:   p.ErrorCount,
		WarningCount: p.WarningCount,
		Files:        p.GeneratedFiles,
		StartedAt:    p.StartedAt,
		FinishedAt:   r.clock(),
	}
}

func (r *Run) fail(err error) {
	now := r.clock()
	r.update(func(p *GenerationProgress) {
		p.Status = StatusError
		p.LastError = err.Error()
		p.FinishedAt = now
	})
	r.log.Error("generation failed", "error", err)
}

// abandon ends a cancelled run. Cancel shares the paused status; the
// Cancelled flag marks it as final.
func (r *Run) abandon() {
	now := r.clock()
	r.update(func(p *GenerationProgress) {
		p.Status = StatusPaused
		p.Cancelled = true
		p.FinishedAt = now
	})
	r.log.Info("generation cancelled", "completed_records", r.Progress().CurrentRecord)
}

// Summary converts the run's current state to a history entry.
func (r *Run) Summary() RunSummary {
	p := r.Progress()
	return RunSummary{
		ID:           r.id,
		SourceName:   r.job.SourceName,
		TemplateName: r.job.Template.Name,
		Format:       r.job.Config.Format,
		Status:       p.Status,
		Cancelled:    p.Cancelled,
		TotalRecords: p.TotalRecords,
		SuccessCount: p.SuccessCount,
		ErrorCount:   p.ErrorCount,
		WarningCount: p.WarningCount,
		Location:     p.Location,
		LastError:    p.LastError,
		StartedAt:    p.StartedAt,
		FinishedAt:   p.FinishedAt,
	}
}
