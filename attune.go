// Package attune adapts an agent's behavior targets to individual callers.
//
// Attune closes the loop between what an agent was asked to do and what
// actually worked: external producers report per-call behavior
// measurements and call outcomes, and the learning engine compares each
// measurement to the target that was in effect, rewards or penalizes the
// result, and conditionally moves the caller's target. Targets layer by
// scope (CALLER over SEGMENT over SYSTEM), so a caller with no learned
// history falls back to shared defaults, and decay-weighted caller
// profiles summarize the raw observation log for prompt composition.
//
// The App type is the single entry point. Construct it with New, feed it
// calls, measurements, and outcomes, and either drive learning explicitly
// with ProcessCall or let Run reconcile pending measurements in the
// background.
package attune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/humanfirst-ai/attune/internal/config"
	"github.com/humanfirst-ai/attune/internal/model"
	"github.com/humanfirst-ai/attune/internal/seed"
	"github.com/humanfirst-ai/attune/internal/service/learning"
	"github.com/humanfirst-ai/attune/internal/service/profile"
	"github.com/humanfirst-ai/attune/internal/service/resolve"
	"github.com/humanfirst-ai/attune/internal/sqlite"
	"github.com/humanfirst-ai/attune/internal/storage"
	"github.com/humanfirst-ai/attune/internal/telemetry"
	"github.com/humanfirst-ai/attune/migrations"
)

// Sentinel errors surfaced by App operations. Test with errors.Is.
var (
	// ErrNotFound: the requested entity does not exist.
	ErrNotFound = storage.ErrNotFound
	// ErrNoTarget: no target is defined at any scope for the parameter.
	ErrNoTarget = resolve.ErrNoTarget
	// ErrConflict: a concurrent writer won the race for the same target
	// tuple and the operation was rolled back.
	ErrConflict = storage.ErrConflict
	// ErrDuplicateReward: learning already ran for this (call, parameter).
	ErrDuplicateReward = storage.ErrDuplicateReward
)

// store is the full storage surface the App needs. Both *storage.DB
// (Postgres) and *sqlite.Store satisfy it.
type store interface {
	UpsertParameter(ctx context.Context, p model.Parameter) (model.Parameter, error)
	GetParameter(ctx context.Context, id string) (model.Parameter, error)
	ListParameters(ctx context.Context) ([]model.Parameter, error)

	CreateCall(ctx context.Context, c model.Call) (model.Call, error)
	GetCall(ctx context.Context, id uuid.UUID) (model.Call, error)

	CreateObservation(ctx context.Context, o model.Observation) (model.Observation, error)
	ListObservations(ctx context.Context, entityID, parameterID string) ([]model.Observation, error)
	ListEntityParameters(ctx context.Context) ([]model.EntityParameter, error)

	CreateMeasurement(ctx context.Context, m model.BehaviorMeasurement) (model.BehaviorMeasurement, error)
	ListMeasurementsByCall(ctx context.Context, callID uuid.UUID) ([]model.BehaviorMeasurement, error)
	ListPendingMeasurements(ctx context.Context, limit int) ([]model.PendingMeasurement, error)

	RecordOutcome(ctx context.Context, o model.CallOutcome) error
	GetOutcome(ctx context.Context, callID uuid.UUID) (model.CallOutcome, error)

	ActiveTargets(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error)
	GetTarget(ctx context.Context, id uuid.UUID) (model.BehaviorTarget, error)
	ListTargetHistory(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error)
	SupersedeTarget(ctx context.Context, t model.BehaviorTarget) (model.BehaviorTarget, error)

	ApplyLearning(ctx context.Context, score model.RewardScore, mutation model.TargetMutation) error
	GetRewardScore(ctx context.Context, callID uuid.UUID, parameterID string) (model.RewardScore, error)
	ListRewardsByCall(ctx context.Context, callID uuid.UUID) ([]model.RewardScore, error)

	UpsertCallerProfile(ctx context.Context, p model.CallerProfile) error
	GetCallerProfile(ctx context.Context, callerID, parameterID string) (model.CallerProfile, error)
	ListCallerProfiles(ctx context.Context, callerID string) ([]model.CallerProfile, error)
}

// SeedSummary reports what a seed import did.
type SeedSummary struct {
	Parameters     int
	Targets        int
	TargetsSkipped int
}

// App wires storage, the target resolver, the learning engine, and the
// profile recomputer behind one façade. All methods are safe for
// concurrent use.
type App struct {
	cfg      config.Config
	store    store
	pg       *storage.DB // nil when the sqlite driver is active
	resolver *resolve.Resolver
	engine   *learning.Engine
	profiles *profile.Recomputer
	importer *seed.Importer
	hooks    []LearningHook

	otelShutdown telemetry.Shutdown
	closeStore   func(ctx context.Context) error
	logger       *slog.Logger
	version      string
}

// New creates a fully wired App: it loads configuration from the
// environment (a .env file is honored if present), applies options,
// connects the configured storage driver, runs migrations, and imports
// the seed file when one is configured.
func New(ctx context.Context, opts ...Option) (*App, error) {
	_ = godotenv.Load()

	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.version == "" {
		o.version = "dev"
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.driver != "" {
		cfg.Driver = o.driver
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.seedFile != "" {
		cfg.SeedFile = o.seedFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, o.version, cfg.OTELInsecure)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:          cfg,
		hooks:        o.hooks,
		otelShutdown: otelShutdown,
		logger:       o.logger,
		version:      o.version,
	}

	switch cfg.Driver {
	case "postgres":
		db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, o.logger)
		if err != nil {
			return nil, app.failInit(ctx, err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close(ctx)
			return nil, app.failInit(ctx, err)
		}
		db.RegisterPoolMetrics()
		app.store = db
		app.pg = db
		app.closeStore = db.Close
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath, o.logger)
		if err != nil {
			return nil, app.failInit(ctx, err)
		}
		app.store = st
		app.closeStore = func(context.Context) error { return st.Close() }
	}

	app.resolver = resolve.New(app.store, o.logger)
	app.engine, err = learning.New(app.store, app.resolver, learning.Config{
		Tolerance:        cfg.Tolerance,
		LearningRate:     cfg.LearningRate,
		ReinforceStep:    cfg.ReinforceStep,
		ReevaluateStep:   cfg.ReevaluateStep,
		OutcomeThreshold: cfg.OutcomeThreshold,
	}, o.logger)
	if err != nil {
		_ = app.closeStore(ctx)
		return nil, app.failInit(ctx, err)
	}
	app.profiles = profile.New(app.store, cfg.HalfLifeDays, cfg.ProfileConcurrency, o.logger)
	app.importer = seed.New(app.store, o.logger)

	if cfg.SeedFile != "" {
		summary, err := app.importer.ApplyFile(ctx, cfg.SeedFile)
		if err != nil {
			_ = app.closeStore(ctx)
			return nil, app.failInit(ctx, err)
		}
		o.logger.Info("seed file applied",
			"file", cfg.SeedFile,
			"parameters", summary.Parameters,
			"targets", summary.Targets,
			"skipped", summary.TargetsSkipped)
	}

	o.logger.Info("attune initialized", "version", o.version, "driver", cfg.Driver)
	return app, nil
}

// failInit tears down telemetry when New fails partway through.
func (a *App) failInit(ctx context.Context, err error) error {
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	return err
}

// Close releases the storage connections and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.closeStore != nil {
		errs = append(errs, a.closeStore(ctx))
	}
	if a.otelShutdown != nil {
		errs = append(errs, a.otelShutdown(ctx))
	}
	return errors.Join(errs...)
}

// RegisterParameter creates or updates a parameter definition.
func (a *App) RegisterParameter(ctx context.Context, p Parameter) (Parameter, error) {
	created, err := a.store.UpsertParameter(ctx, fromPublicParameter(p))
	if err != nil {
		return Parameter{}, err
	}
	return toPublicParameter(created), nil
}

// Parameters lists every registered parameter.
func (a *App) Parameters(ctx context.Context) ([]Parameter, error) {
	params, err := a.store.ListParameters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Parameter, len(params))
	for i, p := range params {
		out[i] = toPublicParameter(p)
	}
	return out, nil
}

// RecordCall registers a call. A nil ID is assigned; a zero OccurredAt
// defaults to now.
func (a *App) RecordCall(ctx context.Context, c Call) (Call, error) {
	created, err := a.store.CreateCall(ctx, model.Call{
		ID:         c.ID,
		CallerID:   c.CallerID,
		SegmentID:  c.SegmentID,
		OccurredAt: c.OccurredAt,
	})
	if err != nil {
		return Call{}, err
	}
	return toPublicCall(created), nil
}

// RecordMeasurement stores what the agent exhibited for one parameter
// during one call. Measurements are immutable; a second write for the
// same (call, parameter) returns ErrConflict.
func (a *App) RecordMeasurement(ctx context.Context, m Measurement) error {
	mm := model.BehaviorMeasurement{
		CallID:      m.CallID,
		ParameterID: m.ParameterID,
		Value:       m.Value,
		Confidence:  m.Confidence,
	}
	if err := mm.Validate(); err != nil {
		return err
	}
	_, err := a.store.CreateMeasurement(ctx, mm)
	return err
}

// RecordObservation appends an observation to the log. Source defaults
// to "call".
func (a *App) RecordObservation(ctx context.Context, o Observation) error {
	src := model.ObservationSource(o.Source)
	if src == "" {
		src = model.ObservationFromCall
	}
	oo := model.Observation{
		ParameterID: o.ParameterID,
		EntityID:    o.EntityID,
		Value:       o.Value,
		Confidence:  o.Confidence,
		ObservedAt:  o.ObservedAt,
		Source:      src,
		CallID:      o.CallID,
	}
	if err := oo.Validate(); err != nil {
		return err
	}
	_, err := a.store.CreateObservation(ctx, oo)
	return err
}

// RecordOutcome stores the outcome signal for a call. A later signal for
// the same call replaces the earlier one; learning that already consumed
// the earlier signal is not revisited.
func (a *App) RecordOutcome(ctx context.Context, callID uuid.UUID, outcome Outcome) error {
	return a.store.RecordOutcome(ctx, model.CallOutcome{
		CallID: callID,
		Signal: model.OutcomeSignal{Good: outcome.Good, Score: outcome.Score},
	})
}

// ResolveTarget returns the effective target for a parameter and caller,
// walking CALLER, then SEGMENT (when segmentID is set), then SYSTEM.
// Returns ErrNoTarget when no scope has an active target.
func (a *App) ResolveTarget(ctx context.Context, parameterID, callerID string, segmentID *string) (Target, error) {
	res, err := a.resolver.Resolve(ctx, parameterID, callerID, segmentID)
	if err != nil {
		return Target{}, err
	}
	return toPublicTarget(res.Target), nil
}

// SetTarget writes a target at the given scope, superseding any active
// row for the same tuple. An empty source defaults to MANUAL.
func (a *App) SetTarget(ctx context.Context, parameterID string, scope Scope, value, confidence float64, source string) (Target, error) {
	ms, err := fromPublicScope(scope)
	if err != nil {
		return Target{}, err
	}
	if source == "" {
		source = SourceManual
	}
	t := model.BehaviorTarget{
		ParameterID: parameterID,
		Scope:       ms,
		Value:       value,
		Confidence:  confidence,
		Source:      model.TargetSource(source),
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	created, err := a.store.SupersedeTarget(ctx, t)
	if err != nil {
		return Target{}, err
	}
	return toPublicTarget(created), nil
}

// TargetHistory returns the full supersession history for a target tuple,
// newest first.
func (a *App) TargetHistory(ctx context.Context, parameterID string, scope Scope) ([]Target, error) {
	ms, err := fromPublicScope(scope)
	if err != nil {
		return nil, err
	}
	history, err := a.store.ListTargetHistory(ctx, parameterID, ms)
	if err != nil {
		return nil, err
	}
	out := make([]Target, len(history))
	for i, t := range history {
		out[i] = toPublicTarget(t)
	}
	return out, nil
}

// ProcessCall runs the learning engine over every measurement recorded
// for the call, using its stored outcome. Measurements that already have
// a reward score are skipped. Returns the reward scores written by this
// invocation. Fails with ErrNotFound when the call has no outcome
// recorded yet; use ProcessPending for outcome-driven reconciliation.
func (a *App) ProcessCall(ctx context.Context, callID uuid.UUID) ([]RewardScore, error) {
	call, err := a.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	outcome, err := a.store.GetOutcome(ctx, callID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("attune: call %s has no outcome recorded: %w", callID, ErrNotFound)
		}
		return nil, err
	}
	measurements, err := a.store.ListMeasurementsByCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	var scores []RewardScore
	for _, m := range measurements {
		res, err := a.processOne(ctx, call, m, outcome.Signal)
		if errors.Is(err, storage.ErrDuplicateReward) {
			continue
		}
		if err != nil {
			return scores, err
		}
		scores = append(scores, toPublicReward(res.Score))
	}
	return scores, nil
}

// ProcessPending drains one batch of measurements whose calls have an
// outcome but no reward score yet. Returns the number processed; calling
// it in a loop until it returns zero drains the backlog.
func (a *App) ProcessPending(ctx context.Context) (int, error) {
	pending, err := a.store.ListPendingMeasurements(ctx, a.cfg.ReconcileBatch)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, p := range pending {
		if _, err := a.processOne(ctx, p.Call, p.Measurement, p.Outcome); err != nil {
			if errors.Is(err, storage.ErrDuplicateReward) {
				continue
			}
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// processOne runs a single learning step. A lost supersession race rolls
// the step back inside the engine; one retry with a fresh target read is
// enough because the second read sees the winner's row.
func (a *App) processOne(ctx context.Context, call model.Call, m model.BehaviorMeasurement, outcome model.OutcomeSignal) (learning.Result, error) {
	res, err := a.engine.Process(ctx, call, m, outcome)
	if errors.Is(err, storage.ErrConflict) {
		res, err = a.engine.Process(ctx, call, m, outcome)
	}
	if err != nil {
		return learning.Result{}, err
	}
	score := toPublicReward(res.Score)
	for _, h := range a.hooks {
		h.OnLearningApplied(ctx, score)
	}
	return res, nil
}

// RewardsByCall returns the audit trail of learning steps for a call.
func (a *App) RewardsByCall(ctx context.Context, callID uuid.UUID) ([]RewardScore, error) {
	rewards, err := a.store.ListRewardsByCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	out := make([]RewardScore, len(rewards))
	for i, r := range rewards {
		out[i] = toPublicReward(r)
	}
	return out, nil
}

// RecomputeProfiles refreshes every decay-weighted caller profile from
// the observation log and returns the number of profiles written.
func (a *App) RecomputeProfiles(ctx context.Context) (int, error) {
	return a.profiles.RecomputeAll(ctx)
}

// CallerProfiles returns the materialized profiles for one caller.
func (a *App) CallerProfiles(ctx context.Context, callerID string) ([]Profile, error) {
	profiles, err := a.store.ListCallerProfiles(ctx, callerID)
	if err != nil {
		return nil, err
	}
	out := make([]Profile, len(profiles))
	for i, p := range profiles {
		out[i] = Profile(p)
	}
	return out, nil
}

// Seed applies a YAML seed file of parameters and initial targets.
// Idempotent: targets matching the active row are skipped.
func (a *App) Seed(ctx context.Context, path string) (SeedSummary, error) {
	summary, err := a.importer.ApplyFile(ctx, path)
	if err != nil {
		return SeedSummary{}, err
	}
	return SeedSummary(summary), nil
}

// Run drives the background loops until ctx is canceled: the
// reconciliation sweep over pending measurements, periodic profile
// recomputation, and (on Postgres with a notify connection) the
// target-change notification listener. Returns nil on clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.reconcileLoop(ctx) })
	g.Go(func() error { return a.profileLoop(ctx) })
	if a.pg != nil && a.cfg.NotifyURL != "" {
		g.Go(func() error { return a.notifyLoop(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.ReconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.ProcessPending(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("reconcile sweep failed", "error", err, "processed", n)
				continue
			}
			if n > 0 {
				a.logger.Info("reconcile sweep", "processed", n)
			}
		}
	}
}

func (a *App) profileLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.ProfileRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.profiles.RecomputeAll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("profile recompute failed", "error", err)
				continue
			}
			a.logger.Debug("profiles recomputed", "count", n)
		}
	}
}

// notifyLoop consumes target-change notifications. Today it only logs
// them; prompt composers that cache resolved targets subscribe on the
// same channel to invalidate.
func (a *App) notifyLoop(ctx context.Context) error {
	if err := a.pg.Listen(ctx, storage.ChannelTargets); err != nil {
		return err
	}
	for {
		channel, payload, err := a.pg.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		a.logger.Debug("target changed", "channel", channel, "payload", payload)
	}
}

func fromPublicParameter(p Parameter) model.Parameter {
	return model.Parameter{
		ID:             p.ID,
		DisplayName:    p.DisplayName,
		DomainGroup:    p.DomainGroup,
		Type:           model.ParameterType(p.Type),
		Directionality: model.Directionality(p.Directionality),
	}
}

func toPublicParameter(p model.Parameter) Parameter {
	return Parameter{
		ID:             p.ID,
		DisplayName:    p.DisplayName,
		DomainGroup:    p.DomainGroup,
		Type:           string(p.Type),
		Directionality: string(p.Directionality),
	}
}

func toPublicCall(c model.Call) Call {
	return Call{
		ID:         c.ID,
		CallerID:   c.CallerID,
		SegmentID:  c.SegmentID,
		OccurredAt: c.OccurredAt,
	}
}

func fromPublicScope(s Scope) (model.Scope, error) {
	level, err := model.ParseScopeLevel(string(s.Level))
	if err != nil {
		return model.Scope{}, err
	}
	return model.Scope{Level: level, EntityID: s.EntityID}, nil
}

func toPublicScope(s model.Scope) Scope {
	return Scope{Level: ScopeLevel(s.Level.String()), EntityID: s.EntityID}
}

func toPublicTarget(t model.BehaviorTarget) Target {
	return Target{
		ID:               t.ID,
		ParameterID:      t.ParameterID,
		Scope:            toPublicScope(t.Scope),
		Value:            t.Value,
		Confidence:       t.Confidence,
		Source:           string(t.Source),
		EffectiveFrom:    t.EffectiveFrom,
		EffectiveUntil:   t.EffectiveUntil,
		ObservationCount: t.ObservationCount,
	}
}

func toPublicReward(r model.RewardScore) RewardScore {
	var scope *ScopeLevel
	if r.TargetScope != nil {
		s := ScopeLevel(r.TargetScope.String())
		scope = &s
	}
	return RewardScore{
		ID:              r.ID,
		CallID:          r.CallID,
		ParameterID:     r.ParameterID,
		TargetValue:     r.TargetValue,
		MeasuredValue:   r.MeasuredValue,
		OutcomeGood:     r.OutcomeGood,
		Reward:          r.Reward,
		Action:          string(r.Action),
		HitTarget:       r.HitTarget,
		BaselineAssumed: r.BaselineAssumed,
		TargetScope:     scope,
		CreatedAt:       r.CreatedAt,
	}
}
