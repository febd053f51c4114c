package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRunRetention is how long a finished run stays addressable by id.
var DefaultRunRetention = 10 * time.Minute

// PublishTimeout bounds a single progress publish.
var PublishTimeout = 2 * time.Second

// Options configures a Service.
type Options struct {
	Pipeline     *Pipeline
	Store        RunStore          // optional
	Publisher    ProgressPublisher // optional
	Limiter      *LoadLimiter      // optional, defaults apply
	RunRetention time.Duration
	MaxRecords   int // per run, 0 is unlimited
	Logger       *slog.Logger
}

// Service holds the merge session: one data source, its fields, the
// template, filters, sorts and rules, plus the generation runs started from
// them. All methods are safe for concurrent use.
type Service struct {
	pipeline  *Pipeline
	store     RunStore
	publisher ProgressPublisher
	limiter   *LoadLimiter
	retention time.Duration
	maxRecs   int
	log       *slog.Logger

	mu       sync.RWMutex
	source   *DataSource
	fields   []Field
	template *Template
	filters  []Filter
	sorts    []SortKey
	rules    []ConditionalRule

	// startMu serializes StartGeneration from reading the active run to
	// replacing it.
	startMu sync.Mutex
	runsMu  sync.Mutex
	runs    map[string]*Run
	active  *Run

	watchers sync.WaitGroup
}

// NewService creates a Service. A pipeline is required.
func NewService(opts Options) (*Service, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("service requires a pipeline")
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLoadLimiter(0, 0)
	}
	retention := opts.RunRetention
	if retention <= 0 {
		retention = DefaultRunRetention
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		pipeline:  opts.Pipeline,
		store:     opts.Store,
		publisher: opts.Publisher,
		limiter:   limiter,
		retention: retention,
		maxRecs:   opts.MaxRecords,
		log:       logger,
		runs:      make(map[string]*Run),
	}, nil
}

// Limiter returns the data source load limiter.
func (s *Service) Limiter() *LoadLimiter {
	return s.limiter
}

// LoadSource runs load while holding a limiter slot and connects the result.
func (s *Service) LoadSource(ctx context.Context, load func(context.Context) (*DataSource, error)) (*DataSource, error) {
	var src *DataSource
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		src, err = load(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.SetDataSource(src)
	return src, nil
}

// SetDataSource connects src, replacing any previous source. Field settings
// survive when a column keeps its name and type.
func (s *Service) SetDataSource(src *DataSource) {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.LoadedAt.IsZero() {
		src.LoadedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.source = src
	s.fields = CountUsage(FieldsFromColumns(src.Columns, s.fields), s.template)

	s.log.Info("data source connected",
		"source_id", src.ID,
		"name", src.Name,
		"format", src.Format,
		"records", src.RecordCount(),
		"columns", len(src.Columns),
	)
}

// DataSource returns the connected source or ErrNoDataSource.
func (s *Service) DataSource() (*DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.source == nil {
		return nil, ErrNoDataSource
	}
	return s.source, nil
}

// Disconnect drops the data source and its fields. Filters, sorts and rules
// are kept so a reconnected source with the same columns picks them up.
func (s *Service) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		s.log.Info("data source disconnected", "source_id", s.source.ID)
	}
	s.source = nil
	s.fields = nil
}

// Fields returns a copy of the current fields.
func (s *Service) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fields)
}

// UpdateField replaces the settings of the field named f.Name. An empty or
// invalid Type keeps the inferred type.
func (s *Service) UpdateField(f Field) (Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.fields, func(x Field) bool { return x.Name == f.Name })
	if i < 0 {
		return Field{}, fmt.Errorf("%w: %s", ErrUnknownField, f.Name)
	}

	cur := s.fields[i]
	if f.Type.Valid() {
		cur.Type = f.Type
	}
	cur.Format = f.Format
	cur.Validation = f.Validation
	cur.Favorite = f.Favorite
	s.fields[i] = cur
	return cur, nil
}

// SetTemplate validates and stores t.
func (s *Service) SetTemplate(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := t.Clone()
	s.template = &clone
	s.fields = CountUsage(s.fields, s.template)
	return nil
}

// Template returns a copy of the template or ErrNoTemplate.
func (s *Service) Template() (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.template == nil {
		return Template{}, ErrNoTemplate
	}
	return s.template.Clone(), nil
}

// SetFilters replaces the filter chain. Filters without an id get one.
func (s *Service) SetFilters(filters []Filter) []Filter {
	filters = slices.Clone(filters)
	for i := range filters {
		if filters[i].ID == "" {
			filters[i].ID = uuid.New().String()
		}
	}
	s.mu.Lock()
	s.filters = filters
	s.mu.Unlock()
	return slices.Clone(filters)
}

// Filters returns the filter chain.
func (s *Service) Filters() []Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.filters)
}

// SetSorts replaces the sort keys.
func (s *Service) SetSorts(keys []SortKey) {
	s.mu.Lock()
	s.sorts = slices.Clone(keys)
	s.mu.Unlock()
}

// Sorts returns the sort keys.
func (s *Service) Sorts() []SortKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sorts)
}

// SetRules replaces the conditional rules. Rules without an id get one.
func (s *Service) SetRules(rules []ConditionalRule) []ConditionalRule {
	rules = slices.Clone(rules)
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = uuid.New().String()
		}
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return slices.Clone(rules)
}

// Rules returns the conditional rules.
func (s *Service) Rules() []ConditionalRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rules)
}

// RecordPage is one page of the filtered and sorted view.
type RecordPage struct {
	Records  []Record `json:"records"`
	Indices  []int    `json:"indices"`
	Total    int      `json:"total"`
	Filtered int      `json:"filtered"`
	Offset   int      `json:"offset"`
	Limit    int      `json:"limit"`
}

// Records returns records [offset, offset+limit) of the filtered, sorted
// view. A non-positive limit returns the rest of the view.
func (s *Service) Records(offset, limit int) (RecordPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.source == nil {
		return RecordPage{}, ErrNoDataSource
	}

	view := BuildView(s.source.Records, s.filters, s.sorts, s.fields)
	page := view.Page(offset, limit)
	return RecordPage{
		Records:  page.Records,
		Indices:  page.Indices,
		Total:    s.source.RecordCount(),
		Filtered: view.Len(),
		Offset:   offset,
		Limit:    limit,
	}, nil
}

// Validate reports advisory issues for the session.
func (s *Service) Validate() []ValidationIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Validate(ValidationInput{
		Source:   s.source,
		Fields:   s.fields,
		Template: s.template,
		Filters:  s.filters,
		Sorts:    s.sorts,
		Rules:    s.rules,
	})
}

// StartGeneration selects records per cfg and starts a run. A run that is
// still active is cancelled first; only one run generates at a time.
//
// The run outlives ctx's cancellation but keeps its values.
func (s *Service) StartGeneration(ctx context.Context, cfg GenerationConfig) (*Run, error) {
	job, err := s.buildJob(cfg)
	if err != nil {
		return nil, err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.runsMu.Lock()
	prev := s.active
	s.runsMu.Unlock()
	if prev != nil {
		if err := prev.Cancel(); err == nil {
			s.log.Info("cancelling previous run", "run_id", prev.ID())
		}
		if _, err := prev.Wait(ctx); err != nil {
			return nil, err
		}
	}

	run, err := s.pipeline.Start(context.WithoutCancel(ctx), job)
	if err != nil {
		return nil, err
	}

	s.runsMu.Lock()
	s.runs[run.ID()] = run
	s.active = run
	s.runsMu.Unlock()

	s.watchers.Add(1)
	go s.watch(run)

	return run, nil
}

func (s *Service) buildJob(cfg GenerationConfig) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.source == nil {
		return Job{}, ErrNoDataSource
	}
	if s.template == nil {
		return Job{}, ErrNoTemplate
	}
	if err := cfg.Validate(); err != nil {
		return Job{}, err
	}

	view, err := SelectRecords(s.source.Records, cfg.Selection, s.filters, s.sorts, s.fields)
	if err != nil {
		return Job{}, err
	}
	if s.maxRecs > 0 && view.Len() > s.maxRecs {
		return Job{}, fmt.Errorf("%w: %d records selected, limit is %d", ErrInvalidConfig, view.Len(), s.maxRecs)
	}

	return Job{
		Records:       view.Records,
		SourceIndices: view.Indices,
		Fields:        slices.Clone(s.fields),
		Template:      s.template.Clone(),
		Rules:         slices.Clone(s.rules),
		Config:        cfg,
		SourceName:    s.source.Name,
	}, nil
}

// watch forwards a run's progress to the publisher and records it in the
// history store once it stops.
func (s *Service) watch(run *Run) {
	defer s.watchers.Done()

	updates, unsubscribe := run.Subscribe()
	defer unsubscribe()

	for p := range updates {
		s.publish(p)
	}

	final := run.Progress()
	s.publish(final)

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.SaveRun(ctx, run.Summary()); err != nil {
			s.log.Error("save run history failed", "run_id", run.ID(), "error", err)
		}
		cancel()
	}

	s.runsMu.Lock()
	if s.active == run {
		s.active = nil
	}
	s.runsMu.Unlock()

	s.cleanup(run.ID(), s.retention)
}

func (s *Service) publish(p GenerationProgress) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, p); err != nil {
		s.log.Warn("publish progress failed", "run_id", p.RunID, "error", err)
	}
}

// cleanup forgets the run after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.runsMu.Lock()
		delete(s.runs, runID)
		s.runsMu.Unlock()
	})
}

// Run returns the run with the given id.
func (s *Service) Run(id string) (*Run, error) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// ActiveRun returns the generating or paused run, if any.
func (s *Service) ActiveRun() (*Run, bool) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	return s.active, s.active != nil
}

// PauseRun pauses the run with the given id.
func (s *Service) PauseRun(id string) error {
	run, err := s.Run(id)
	if err != nil {
		return err
	}
	return run.Pause()
}

// ResumeRun resumes the run with the given id.
func (s *Service) ResumeRun(id string) error {
	run, err := s.Run(id)
	if err != nil {
		return err
	}
	return run.Resume()
}

// CancelRun cancels the run with the given id.
func (s *Service) CancelRun(id string) error {
	run, err := s.Run(id)
	if err != nil {
		return err
	}
	return run.Cancel()
}

// History returns up to limit past runs, newest first. Without a store it
// lists the runs still held in memory.
func (s *Service) History(ctx context.Context, limit int) ([]RunSummary, error) {
	if s.store != nil {
		return s.store.ListRuns(ctx, limit)
	}

	s.runsMu.Lock()
	out := make([]RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Summary())
	}
	s.runsMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Shutdown cancels the active run and waits until its history is recorded
// and any in-flight loads finish, or until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	if run, ok := s.ActiveRun(); ok {
		_ = run.Cancel()
	}

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.limiter.WaitForDrain(ctx)
}
