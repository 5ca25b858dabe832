package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/BearBump/FleetSync/internal/broker/messages"
	"github.com/BearBump/FleetSync/internal/integrations/catalog"
	"github.com/BearBump/FleetSync/internal/models"
	"github.com/BearBump/FleetSync/internal/runlock"
	"github.com/BearBump/FleetSync/internal/services/diff"
)

type ShipStore interface {
	GetByExternalIDs(ctx context.Context, externalIDs []string) (map[string]*models.Ship, error)
	UpsertShip(ctx context.Context, doc *models.Ship) (models.UpsertOutcome, error)
	CountShips(ctx context.Context) (int, error)
}

type StatusPublisher interface {
	NextVersion(ctx context.Context) (int64, error)
	Publish(ctx context.Context, snap models.SyncStatusSnapshot) (bool, error)
}

type RunArchive interface {
	SaveRun(ctx context.Context, run *models.SyncRun) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Settings struct {
	PageSize               int
	MaxPages               int
	MaxConsecutiveFailures int
	MaxErrors              int
	RunTimeout             time.Duration
	UpsertConcurrency      int

	ShipChangedTopic   string
	CatalogSyncedTopic string
}

func DefaultSettings() Settings {
	return Settings{
		PageSize:               50,
		MaxPages:               500,
		MaxConsecutiveFailures: 3,
		MaxErrors:              50,
		RunTimeout:             15 * time.Minute,
		UpsertConcurrency:      8,
	}
}

// finalization must still complete when the run context is gone
const finalizeTimeout = 15 * time.Second

type Orchestrator struct {
	client   catalog.Client
	ships    ShipStore
	status   StatusPublisher
	lock     runlock.Lock
	archive  RunArchive
	producer Producer
	metrics  *Metrics

	settings Settings
	now      func() time.Time

	startedAt     time.Time
	running       atomic.Bool
	totalRuns     atomic.Int64
	totalRejected atomic.Int64
	totalFailed   atomic.Int64
	lastMu        sync.Mutex
	last          *models.RunSummary
}

func New(client catalog.Client, ships ShipStore, status StatusPublisher, lock runlock.Lock) *Orchestrator {
	return &Orchestrator{
		client:    client,
		ships:     ships,
		status:    status,
		lock:      lock,
		settings:  DefaultSettings(),
		now:       time.Now,
		startedAt: time.Now().UTC(),
	}
}

// WithSettings overrides every positive value; topics are taken as is.
func (o *Orchestrator) WithSettings(s Settings) *Orchestrator {
	if s.PageSize > 0 {
		o.settings.PageSize = s.PageSize
	}
	if s.MaxPages > 0 {
		o.settings.MaxPages = s.MaxPages
	}
	if s.MaxConsecutiveFailures > 0 {
		o.settings.MaxConsecutiveFailures = s.MaxConsecutiveFailures
	}
	if s.MaxErrors > 0 {
		o.settings.MaxErrors = s.MaxErrors
	}
	if s.RunTimeout > 0 {
		o.settings.RunTimeout = s.RunTimeout
	}
	if s.UpsertConcurrency > 0 {
		o.settings.UpsertConcurrency = s.UpsertConcurrency
	}
	o.settings.ShipChangedTopic = s.ShipChangedTopic
	o.settings.CatalogSyncedTopic = s.CatalogSyncedTopic
	return o
}

func (o *Orchestrator) WithArchive(a RunArchive) *Orchestrator {
	o.archive = a
	return o
}

func (o *Orchestrator) WithProducer(p Producer) *Orchestrator {
	o.producer = p
	return o
}

func (o *Orchestrator) WithMetrics(m *Metrics) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) Settings() Settings { return o.settings }

type runState struct {
	run       *models.SyncRun
	maxErrors int

	fatal      bool
	finalizing bool
}

// addError always counts; the detailed list is capped.
func (st *runState) addError(page int, msg string) {
	st.run.ErrorCount++
	if st.maxErrors <= 0 || len(st.run.Errors) < st.maxErrors {
		st.run.Errors = append(st.run.Errors, models.RunError{Page: page, Message: msg})
	}
}

// Run performs one synchronization run. It never returns an error: every
// outcome, including a concurrent run holding the lock, is a summary.
func (o *Orchestrator) Run(ctx context.Context, trigger models.Trigger) (summary models.RunSummary) {
	if !trigger.Valid() {
		return models.RunSummary{
			Trigger:    trigger,
			Status:     models.RunStatusFailed,
			Message:    fmt.Sprintf("unknown trigger %q", trigger),
			ErrorCount: 1,
			HasErrors:  true,
		}
	}

	runID := uuid.NewString()
	release, acquired, err := o.lock.TryAcquire(ctx, runID)
	if err != nil {
		slog.Error("run lock unavailable", "trigger", trigger, "err", err)
		o.metrics.ObserveRun(string(trigger), string(models.RunStatusFailed), 0)
		return models.RunSummary{
			Trigger:    trigger,
			Status:     models.RunStatusFailed,
			Message:    "run lock unavailable",
			ErrorCount: 1,
			HasErrors:  true,
			Errors:     []models.RunError{{Message: err.Error()}},
		}
	}
	if !acquired {
		o.totalRejected.Add(1)
		o.metrics.ObserveRun(string(trigger), string(models.RunStatusAlreadyRunning), 0)
		slog.Info("sync run skipped: another run is in progress", "trigger", trigger)
		return models.RunSummary{
			Trigger: trigger,
			Status:  models.RunStatusAlreadyRunning,
			Message: "a sync run is already in progress",
		}
	}
	defer release()

	o.running.Store(true)
	defer o.running.Store(false)

	st := &runState{
		run: &models.SyncRun{
			ID:        runID,
			Trigger:   trigger,
			StartedAt: o.now().UTC(),
			Status:    models.RunStatusRunning,
		},
		maxErrors: o.settings.MaxErrors,
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		slog.Error("sync run panicked", "run_id", runID, "panic", r, "stack", string(debug.Stack()))
		st.addError(0, fmt.Sprintf("internal error: %v", r))
		st.fatal = true
		if st.finalizing {
			st.run.Status = models.RunStatusFailed
			summary = summaryOf(st.run)
			return
		}
		summary = o.finish(ctx, st)
	}()

	slog.Info("sync run started", "run_id", runID, "trigger", trigger, "page_size", o.settings.PageSize)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.settings.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.settings.RunTimeout)
	}
	defer cancel()

	o.iteratePages(runCtx, st)
	return o.finish(ctx, st)
}

func (o *Orchestrator) iteratePages(ctx context.Context, st *runState) {
	consecutive := 0
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			o.abandon(ctx, st, page)
			return
		}

		p, err := o.client.FetchPage(ctx, page, o.settings.PageSize)
		if err == nil && len(p.Records) == 0 && page > 1 {
			return
		}
		if err == nil {
			err = o.processPage(ctx, st, p)
		}

		if err != nil {
			if ctx.Err() != nil {
				o.abandon(ctx, st, page)
				return
			}
			st.run.PagesFailed++
			o.metrics.IncPage("failed")
			o.metrics.IncError(catalog.ErrorLabel(err))
			st.addError(page, err.Error())
			slog.Warn("sync page failed", "run_id", st.run.ID, "page", page, "err", err)

			var pe *catalog.PageError
			if errors.As(err, &pe) && pe.Fatal() {
				st.fatal = true
				slog.Error("fatal catalog error, aborting run", "run_id", st.run.ID, "page", page, "err", err)
				return
			}
			consecutive++
			if ceiling := o.settings.MaxConsecutiveFailures; ceiling > 0 && consecutive > ceiling {
				st.fatal = true
				st.addError(page, fmt.Sprintf("%d consecutive page failures, aborting run", consecutive))
				return
			}
			if o.settings.MaxPages > 0 && page >= o.settings.MaxPages {
				return
			}
			continue
		}

		consecutive = 0
		st.run.PagesProcessed++
		o.metrics.IncPage("ok")

		if !p.HasMore {
			return
		}
		if o.settings.MaxPages > 0 && page >= o.settings.MaxPages {
			st.fatal = true
			st.addError(page, fmt.Sprintf("page cap %d reached while the catalog reports more pages", o.settings.MaxPages))
			o.metrics.IncError("page_cap")
			slog.Error("page cap exceeded, aborting run", "run_id", st.run.ID, "max_pages", o.settings.MaxPages)
			return
		}
	}
}

func (o *Orchestrator) abandon(ctx context.Context, st *runState, page int) {
	msg := "run cancelled, remaining pages abandoned"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = fmt.Sprintf("run timed out after %s, remaining pages abandoned", o.settings.RunTimeout)
	}
	st.addError(page, msg)
	o.metrics.IncError("timeout")
	slog.Warn("sync run stopped early", "run_id", st.run.ID, "page", page, "reason", msg)
}

type recordSlot struct {
	kind diff.Kind
	err  error
}

// processPage classifies and persists one page. It returns an error only
// when the page as a whole could not be reconciled; per-record storage
// failures are recorded against the page and do not fail it.
func (o *Orchestrator) processPage(ctx context.Context, st *runState, p *catalog.Page) error {
	var counts models.RunCounts

	valid := make([]*models.CatalogRecord, 0, len(p.Records))
	ids := make([]string, 0, len(p.Records))
	seen := make(map[string]struct{}, len(p.Records))
	for _, rr := range p.Records {
		if rr.Err != nil || rr.Record == nil {
			counts.Skipped++
			slog.Debug("catalog record skipped", "run_id", st.run.ID, "page", p.Number, "err", rr.Err)
			continue
		}
		id := strings.TrimSpace(rr.Record.ExternalID)
		if _, dup := seen[id]; dup {
			counts.Skipped++
			slog.Warn("duplicate externalId within page", "run_id", st.run.ID, "page", p.Number, "external_id", id)
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, rr.Record)
		ids = append(ids, id)
	}

	existing, err := o.ships.GetByExternalIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "load stored ships")
	}

	slots := make([]recordSlot, len(valid))
	var g errgroup.Group
	g.SetLimit(o.settings.UpsertConcurrency)
	for i, rec := range valid {
		res := diff.Classify(existing[ids[i]], rec)
		if res.Kind == diff.KindSkipped || res.Kind == diff.KindUnchanged {
			slots[i] = recordSlot{kind: res.Kind}
			continue
		}
		var prevSlug string
		if ex := existing[ids[i]]; ex != nil && ex.Slug != res.Doc.Slug {
			prevSlug = ex.Slug
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slots[i] = recordSlot{err: fmt.Errorf("upsert %s: panic: %v", res.Doc.ExternalID, r)}
				}
			}()
			outcome, err := o.ships.UpsertShip(ctx, res.Doc)
			if err != nil {
				slots[i] = recordSlot{err: errors.Wrapf(err, "upsert %s", res.Doc.ExternalID)}
				return nil
			}
			kind := kindOf(outcome)
			slots[i] = recordSlot{kind: kind}
			if kind == diff.KindNew || kind == diff.KindUpdated {
				o.publishShipChanged(ctx, st.run.ID, res.Doc, prevSlug, kind)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		if s.err != nil {
			st.addError(p.Number, s.err.Error())
			o.metrics.IncError("persistence")
			slog.Error("ship upsert failed", "run_id", st.run.ID, "page", p.Number, "err", s.err)
			continue
		}
		switch s.kind {
		case diff.KindNew:
			counts.New++
		case diff.KindUpdated:
			counts.Updated++
		case diff.KindUnchanged:
			counts.Unchanged++
		case diff.KindSkipped:
			counts.Skipped++
		}
	}

	st.run.Counts.Add(counts)
	o.metrics.AddRecords(string(diff.KindNew), counts.New)
	o.metrics.AddRecords(string(diff.KindUpdated), counts.Updated)
	o.metrics.AddRecords(string(diff.KindUnchanged), counts.Unchanged)
	o.metrics.AddRecords(string(diff.KindSkipped), counts.Skipped)

	slog.Debug("sync page processed", "run_id", st.run.ID, "page", p.Number,
		"new", counts.New, "updated", counts.Updated, "unchanged", counts.Unchanged, "skipped", counts.Skipped)
	return nil
}

func kindOf(o models.UpsertOutcome) diff.Kind {
	switch o {
	case models.UpsertCreated:
		return diff.KindNew
	case models.UpsertUpdated:
		return diff.KindUpdated
	default:
		return diff.KindUnchanged
	}
}

func decideStatus(st *runState) models.RunStatus {
	switch {
	case st.fatal, st.run.PagesProcessed == 0:
		return models.RunStatusFailed
	case st.run.ErrorCount > 0:
		return models.RunStatusPartial
	default:
		return models.RunStatusSuccess
	}
}

func (o *Orchestrator) finish(ctx context.Context, st *runState) models.RunSummary {
	st.finalizing = true
	run := st.run

	finished := o.now().UTC()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(run.StartedAt).Milliseconds()
	run.Status = decideStatus(st)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	summary := summaryOf(run)

	shipCount, countErr := o.ships.CountShips(fctx)
	if countErr != nil {
		slog.Error("count ships", "run_id", run.ID, "err", countErr)
	}
	summary.ShipCount = shipCount

	if run.Status.Publishable() {
		if countErr != nil {
			summary.Message = "status snapshot not published: ship count unavailable"
		} else if v, ok := o.publishSnapshot(fctx, run, finished, shipCount); ok {
			summary.SyncVersion = v
		} else {
			summary.Message = "status snapshot not published"
		}
	}

	if o.archive != nil {
		if err := o.archive.SaveRun(fctx, run); err != nil {
			slog.Error("archive sync run", "run_id", run.ID, "err", err)
		}
	}

	o.totalRuns.Add(1)
	if run.Status == models.RunStatusFailed {
		o.totalFailed.Add(1)
	}
	o.metrics.ObserveRun(string(run.Trigger), string(run.Status), time.Duration(run.DurationMs)*time.Millisecond)
	o.lastMu.Lock()
	last := summary
	o.last = &last
	o.lastMu.Unlock()

	slog.Info("sync run finished",
		"run_id", run.ID,
		"trigger", run.Trigger,
		"status", run.Status,
		"pages_processed", run.PagesProcessed,
		"pages_failed", run.PagesFailed,
		"new", run.Counts.New,
		"updated", run.Counts.Updated,
		"unchanged", run.Counts.Unchanged,
		"skipped", run.Counts.Skipped,
		"errors", run.ErrorCount,
		"ship_count", summary.ShipCount,
		"duration_ms", run.DurationMs,
	)
	return summary
}

func (o *Orchestrator) publishSnapshot(ctx context.Context, run *models.SyncRun, at time.Time, shipCount int) (int64, bool) {
	version, err := o.status.NextVersion(ctx)
	if err != nil {
		slog.Error("read sync status version", "run_id", run.ID, "err", err)
		return 0, false
	}
	snap := models.SyncStatusSnapshot{
		LastSyncAt:  at,
		ShipCount:   shipCount,
		Status:      run.Status,
		SyncVersion: version,
	}
	ok, err := o.status.Publish(ctx, snap)
	if err != nil {
		slog.Error("publish sync status", "run_id", run.ID, "err", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	o.metrics.SetPublished(at, shipCount)

	o.emit(ctx, o.settings.CatalogSyncedTopic, run.ID, messages.CatalogSynced{
		RunID:          run.ID,
		Trigger:        string(run.Trigger),
		Status:         string(run.Status),
		ShipCount:      shipCount,
		SyncVersion:    version,
		NewShips:       run.Counts.New,
		UpdatedShips:   run.Counts.Updated,
		UnchangedShips: run.Counts.Unchanged,
		SkippedShips:   run.Counts.Skipped,
		FinishedAt:     at,
	})
	return version, true
}

func (o *Orchestrator) publishShipChanged(ctx context.Context, runID string, doc *models.Ship, prevSlug string, kind diff.Kind) {
	o.emit(ctx, o.settings.ShipChangedTopic, doc.ExternalID, messages.ShipChanged{
		RunID:        runID,
		ShipID:       doc.ID,
		ExternalID:   doc.ExternalID,
		Slug:         doc.Slug,
		PreviousSlug: prevSlug,
		Kind:         string(kind),
		ContentHash:  doc.ContentHash,
		SyncVersion:  doc.SyncVersion,
		ChangedAt:    o.now().UTC(),
	})
}

// emit is best effort: a broker outage must not fail a sync.
func (o *Orchestrator) emit(ctx context.Context, topic, key string, msg any) {
	if o.producer == nil || topic == "" {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal kafka msg", "topic", topic, "err", err)
		o.metrics.IncEvent(topic, "error")
		return
	}
	if err := o.producer.Publish(ctx, topic, []byte(key), b); err != nil {
		slog.Warn("kafka publish failed", "topic", topic, "key", key, "err", err)
		o.metrics.IncEvent(topic, "error")
		return
	}
	o.metrics.IncEvent(topic, "ok")
}

func summaryOf(run *models.SyncRun) models.RunSummary {
	s := models.RunSummary{
		RunID:          run.ID,
		Trigger:        run.Trigger,
		Status:         run.Status,
		NewShips:       run.Counts.New,
		UpdatedShips:   run.Counts.Updated,
		UnchangedShips: run.Counts.Unchanged,
		SkippedShips:   run.Counts.Skipped,
		DurationMs:     run.DurationMs,
		PagesProcessed: run.PagesProcessed,
		PagesFailed:    run.PagesFailed,
		ErrorCount:     run.ErrorCount,
		HasErrors:      run.ErrorCount > 0,
	}
	if len(run.Errors) > 0 {
		s.Errors = append([]models.RunError(nil), run.Errors...)
	}
	return s
}

type Stats struct {
	StartedAt     time.Time          `json:"startedAt"`
	Running       bool               `json:"running"`
	TotalRuns     int64              `json:"totalRuns"`
	TotalFailed   int64              `json:"totalFailed"`
	TotalRejected int64              `json:"totalRejected"`
	LastRun       *models.RunSummary `json:"lastRun,omitempty"`
}

func (o *Orchestrator) Stats() Stats {
	st := Stats{
		StartedAt:     o.startedAt,
		Running:       o.running.Load(),
		TotalRuns:     o.totalRuns.Load(),
		TotalFailed:   o.totalFailed.Load(),
		TotalRejected: o.totalRejected.Load(),
	}
	o.lastMu.Lock()
	if o.last != nil {
		last := *o.last
		st.LastRun = &last
	}
	o.lastMu.Unlock()
	return st
}
