package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/catalogsync/catalogsync/internal/core"
)

const tracerName = "github.com/catalogsync/catalogsync/internal/core/engine"

// Fetcher retrieves one page of the remote catalog listing.
type Fetcher interface {
	FetchPage(ctx context.Context, creds core.ScopeCredentials, req core.PageRequest) (*core.Page, error)
	Endpoint() string
	Method() string
}

// CredentialsProvider resolves per-scope connection settings.
type CredentialsProvider interface {
	Credentials(scope string) (core.ScopeCredentials, error)
}

// PersistenceSink stores merged items.
type PersistenceSink interface {
	Upsert(ctx context.Context, item core.RemoteItem) (core.UpsertResult, error)
}

// MetricsSink receives monitor aggregates after each run.
type MetricsSink interface {
	Export(ctx context.Context, snapshot MetricsSnapshot) error
}

// RunRecorder persists run reports.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *core.SyncRun) error
}

// Logger is satisfied by *zap.Logger and the gofulmen logger.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// SyncSettings are the run-wide knobs. Scope credentials may override
// MaxPages, ItemsPerPage and DelayBetweenRequests.
type SyncSettings struct {
	// Scopes lists account scopes in merge priority order.
	Scopes               []string
	ResourceClass        core.ResourceClass
	MaxPages             int
	ItemsPerPage         int
	DelayBetweenRequests time.Duration
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	MaxRetries           int
	Filters              map[string]any
	Sequential           bool
}

// Result is the merged item set plus the run report.
type Result struct {
	Run   *core.SyncRun
	Items []core.RemoteItem
}

// Orchestrator drives synchronization runs across account scopes.
type Orchestrator struct {
	Credentials CredentialsProvider
	Fetcher     Fetcher
	Limiter     *RateLimiter
	Breakers    *BreakerRegistry
	Monitor     *Monitor
	Sink        PersistenceSink
	Metrics     MetricsSink
	Runs        RunRecorder
	Logger      Logger
	Tracer      trace.Tracer
	Settings    SyncSettings
	Clock       func() time.Time
	// Sleep blocks for backoff delays; defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	limiterMu     sync.Mutex
	scopeLimiters map[string]*RateLimiter
}

// ScopeRun is the per-scope result before merge.
type ScopeRun struct {
	Report *core.ScopeReport
	Items  []core.RemoteItem
}

// Sync runs a full synchronization over the configured scopes, or over the
// given scopes when provided. The only error returned is a configuration
// error detected before any remote call; everything else is reported in the
// run.
func (o *Orchestrator) Sync(ctx context.Context, scopes ...string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(scopes) == 0 {
		scopes = o.Settings.Scopes
	}
	scopes = normalizeScopes(scopes)
	if len(scopes) == 0 {
		return nil, &core.ConfigError{Field: "sync.scopes", Reason: "at least one scope is required"}
	}
	if o.Fetcher == nil {
		return nil, &core.ConfigError{Field: "fetcher", Reason: "remote fetcher is not configured"}
	}
	if o.Credentials == nil {
		return nil, &core.ConfigError{Field: "scopes", Reason: "credentials provider is not configured"}
	}

	creds := make(map[string]core.ScopeCredentials, len(scopes))
	for _, scope := range scopes {
		c, err := o.Credentials.Credentials(scope)
		if err != nil {
			var cfgErr *core.ConfigError
			if errors.As(err, &cfgErr) {
				return nil, err
			}
			return nil, &core.ConfigError{Field: "scopes." + scope, Reason: err.Error()}
		}
		c.Scope = scope
		creds[scope] = c
	}

	run := &core.SyncRun{
		ID:              uuid.New().String(),
		ScopesRequested: scopes,
		Scopes:          make(map[string]*core.ScopeReport, len(scopes)),
		StartedAt:       o.now().UTC(),
		Status:          core.RunRunning,
	}
	for _, scope := range scopes {
		run.Scopes[scope] = &core.ScopeReport{Scope: scope, Status: core.ScopeRunning}
	}

	ctx, span := o.tracer().Start(ctx, "catalogsync.sync", trace.WithAttributes(
		attribute.String("catalogsync.run_id", run.ID),
		attribute.StringSlice("catalogsync.scopes", scopes),
	))
	defer span.End()

	log := o.log()
	log.Info("Sync run started", zap.String("run_id", run.ID), zap.Strings("scopes", scopes))

	outcomes := o.runScopes(ctx, scopes, creds)

	perScope := make(map[string][]core.RemoteItem, len(outcomes))
	for _, scope := range scopes {
		out := outcomes[scope]
		run.Scopes[scope] = out.Report
		run.ItemsCollected += len(out.Items)
		perScope[scope] = out.Items
	}

	merged := Merge(scopes, perScope)
	run.ItemsMerged = len(merged.Items)
	run.DuplicatesRemoved = merged.DuplicatesRemoved

	// Already-collected items are preserved even when the run was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	o.persist(persistCtx, run, merged.Items)

	o.finalize(run)
	span.SetAttributes(
		attribute.String("catalogsync.status", string(run.Status)),
		attribute.Int("catalogsync.items_merged", run.ItemsMerged),
	)
	if run.Status == core.RunFailed {
		span.SetStatus(codes.Error, "all scopes failed")
	}

	if o.Runs != nil {
		if err := o.Runs.SaveRun(persistCtx, run); err != nil {
			log.Warn("Failed to save sync run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if o.Metrics != nil && o.Monitor != nil {
		if err := o.Metrics.Export(persistCtx, o.Monitor.Metrics()); err != nil {
			log.Warn("Failed to export sync metrics", zap.Error(err))
		}
	}

	log.Info("Sync run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("items_collected", run.ItemsCollected),
		zap.Int("items_merged", run.ItemsMerged),
		zap.Int("duplicates_removed", run.DuplicatesRemoved),
		zap.Int("created", run.Created),
		zap.Int("updated", run.Updated))

	return &Result{Run: run, Items: merged.Items}, nil
}

func (o *Orchestrator) runScopes(ctx context.Context, scopes []string, creds map[string]core.ScopeCredentials) map[string]ScopeRun {
	outcomes := make(map[string]ScopeRun, len(scopes))
	if o.Settings.Sequential {
		for _, scope := range scopes {
			outcomes[scope] = o.SyncScope(ctx, creds[scope])
		}
		return outcomes
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, scope := range scopes {
		c := creds[scope]
		g.Go(func() error {
			out := o.SyncScope(ctx, c)
			mu.Lock()
			outcomes[c.Scope] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// SyncScope paginates one scope sequentially. Page N+1 is requested only
// after page N has been fully consumed.
func (o *Orchestrator) SyncScope(ctx context.Context, creds core.ScopeCredentials) ScopeRun {
	report := &core.ScopeReport{Scope: creds.Scope, Status: core.ScopeRunning}
	var items []core.RemoteItem

	log := o.log()
	maxPages := firstPositive(creds.MaxPages, o.Settings.MaxPages, 1)
	perPage := firstPositive(creds.ItemsPerPage, o.Settings.ItemsPerPage, 100)
	delay := creds.DelayBetweenRequests
	if delay <= 0 {
		delay = o.Settings.DelayBetweenRequests
	}
	breaker := o.breakerFor(creds)

	page := 1
	for page <= maxPages {
		if err := ctx.Err(); err != nil {
			report.Status = core.ScopeCancelled
			report.Errors = append(report.Errors, core.ScopeError{Page: page, Code: core.CodeCancelled, Message: err.Error()})
			break
		}

		result, err := o.fetchWithRetry(ctx, creds, breaker, core.PageRequest{
			Scope:        creds.Scope,
			Page:         page,
			ItemsPerPage: perPage,
			Filters:      o.Settings.Filters,
		})
		if err != nil {
			report.Status = scopeStatusFor(ctx, err, report.PagesProcessed)
			report.Errors = append(report.Errors, core.ScopeError{Page: page, Code: core.ErrorCode(err), Message: err.Error()})
			log.Warn("Scope sync stopped",
				zap.String("scope", creds.Scope),
				zap.Int("page", page),
				zap.String("status", string(report.Status)),
				zap.Error(err))
			break
		}

		items = append(items, result.Items...)
		report.PagesProcessed++
		for _, invalid := range result.Invalid {
			report.Errors = append(report.Errors, core.ScopeError{Page: page, Code: core.CodeValidation, Message: invalid.Error()})
			log.Debug("Skipped invalid item", zap.String("scope", creds.Scope), zap.Int("page", page), zap.Error(invalid))
		}

		log.Debug("Page consumed",
			zap.String("scope", creds.Scope),
			zap.Int("page", page),
			zap.Int("items", len(result.Items)),
			zap.Int("total_pages", result.TotalPages))

		if len(result.Items) == 0 && len(result.Invalid) == 0 {
			break
		}
		if result.TotalPages > 0 && page >= result.TotalPages {
			break
		}
		if page == maxPages {
			report.MoreAvailable = result.TotalPages == 0 || result.TotalPages > maxPages
			break
		}

		page++
		// The courtesy pause starts once the previous page is consumed, so a
		// slow page never shortens it.
		if err := o.sleep(ctx, delay); err != nil {
			report.Status = scopeStatusFor(ctx, err, report.PagesProcessed)
			report.Errors = append(report.Errors, core.ScopeError{Page: page, Code: core.ErrorCode(err), Message: err.Error()})
			break
		}
	}

	if report.Status == core.ScopeRunning {
		report.Status = core.ScopeCompleted
	}
	report.ItemsCollected = len(items)

	return ScopeRun{Report: report, Items: items}
}

// fetchWithRetry fetches one page through the limiter and breaker, retrying
// vendor 429s with exponential backoff. Exhausted retries count as one
// breaker failure.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, creds core.ScopeCredentials, breaker *CircuitBreaker, req core.PageRequest) (*core.Page, error) {
	class := o.Settings.ResourceClass
	if class == "" {
		class = core.ResourceCatalog
	}
	limiter := o.limiterFor(creds)
	maxRetries := o.Settings.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		if err := limiter.Acquire(ctx, class); err != nil {
			return nil, err
		}

		page, err := o.fetchOnce(ctx, creds, breaker, req, attempt)
		if err == nil {
			return page, nil
		}

		var rateLimited *core.RateLimitExceededError
		if !errors.As(err, &rateLimited) {
			return nil, err
		}

		if attempt >= maxRetries {
			if breaker != nil {
				breaker.RecordFailure()
			}
			return nil, fmt.Errorf("page %d: gave up after %d retries: %w", req.Page, attempt, err)
		}

		limiter.Penalize(class, rateLimited.RetryAfter)
		delay := Backoff(o.Settings.RetryBaseDelay, o.Settings.RetryMaxDelay, attempt)
		o.log().Info("Vendor rate limit, backing off",
			zap.String("scope", creds.Scope),
			zap.Int("page", req.Page),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Duration("retry_after", rateLimited.RetryAfter))
		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) fetchOnce(ctx context.Context, creds core.ScopeCredentials, breaker *CircuitBreaker, req core.PageRequest, attempt int) (*core.Page, error) {
	ctx, span := o.tracer().Start(ctx, "catalogsync.fetch_page", trace.WithAttributes(
		attribute.String("catalogsync.scope", req.Scope),
		attribute.Int("catalogsync.page", req.Page),
		attribute.Int("catalogsync.attempt", attempt),
	))
	defer span.End()

	var page *core.Page
	call := func(ctx context.Context) error {
		started := o.now()
		p, err := o.Fetcher.FetchPage(ctx, creds, req)
		o.record(creds.Scope, started, p, err)
		if err != nil {
			return err
		}
		page = p
		return nil
	}

	var err error
	if breaker != nil {
		err = breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, core.ErrorCode(err))
		return nil, err
	}
	if page == nil {
		page = &core.Page{Number: req.Page}
	}
	span.SetAttributes(attribute.Int("catalogsync.items", len(page.Items)))
	return page, nil
}

func (o *Orchestrator) record(scope string, started time.Time, page *core.Page, err error) {
	if o.Monitor == nil {
		return
	}

	metric := core.RequestMetric{
		Timestamp: started.UTC(),
		Endpoint:  o.Fetcher.Endpoint(),
		Method:    o.Fetcher.Method(),
		LatencyMS: float64(o.now().Sub(started)) / float64(time.Millisecond),
		Scope:     scope,
		Success:   err == nil,
	}
	if page != nil {
		metric.StatusCode = page.StatusCode
	}
	if err != nil {
		metric.ErrorCode = core.ErrorCode(err)
		metric.StatusCode = statusCodeOf(err)
	}
	o.Monitor.Record(metric)
}

func (o *Orchestrator) persist(ctx context.Context, run *core.SyncRun, items []core.RemoteItem) {
	if o.Sink == nil {
		return
	}

	failures := 0
	for _, item := range items {
		result, err := o.Sink.Upsert(ctx, item)
		if err != nil {
			failures++
			if failures <= 10 {
				run.Errors = append(run.Errors, fmt.Sprintf("%s: upsert %s: %v", core.CodePersistence, item.SKU, err))
			}
			continue
		}
		switch result {
		case core.UpsertCreated:
			run.Created++
		case core.UpsertUpdated:
			run.Updated++
		}
	}
	if failures > 10 {
		run.Errors = append(run.Errors, fmt.Sprintf("%s: %d more upsert failures", core.CodePersistence, failures-10))
	}
	if failures > 0 {
		o.log().Error("Persistence failures during sync", zap.String("run_id", run.ID), zap.Int("failures", failures))
	}
}

func (o *Orchestrator) finalize(run *core.SyncRun) {
	failed, cancelled := 0, 0
	for _, scope := range run.ScopesRequested {
		report := run.Scopes[scope]
		switch report.Status {
		case core.ScopeFailed:
			failed++
		case core.ScopeCancelled:
			cancelled++
		}
		for _, e := range report.Errors {
			run.Errors = append(run.Errors, fmt.Sprintf("%s: %s: %s", scope, e.Code, e.Message))
		}
	}

	switch {
	case cancelled > 0:
		run.Status = core.RunCancelled
	case failed == len(run.ScopesRequested):
		run.Status = core.RunFailed
	default:
		run.Status = core.RunCompleted
	}

	completedAt := o.now().UTC()
	run.CompletedAt = &completedAt
}

// breakerFor returns the breaker shared by every scope talking to the same host.
func (o *Orchestrator) breakerFor(creds core.ScopeCredentials) *CircuitBreaker {
	if o.Breakers == nil {
		return nil
	}
	return o.Breakers.Get(dependencyName(creds.BaseURL))
}

// limiterFor returns a dedicated limiter when the scope carries its own rate
// limits, otherwise the shared one.
func (o *Orchestrator) limiterFor(creds core.ScopeCredentials) *RateLimiter {
	if len(creds.RateLimits) == 0 {
		return o.Limiter
	}

	o.limiterMu.Lock()
	defer o.limiterMu.Unlock()

	if o.scopeLimiters == nil {
		o.scopeLimiters = make(map[string]*RateLimiter)
	}
	if limiter, ok := o.scopeLimiters[creds.Scope]; ok {
		return limiter
	}

	limiter := &RateLimiter{Limits: creds.RateLimits}
	if o.Limiter != nil {
		limiter.JitterMax = o.Limiter.JitterMax
		limiter.Margin = o.Limiter.Margin
		limiter.Clock = o.Limiter.Clock
		limiter.Sleep = o.Limiter.Sleep
	}
	o.scopeLimiters[creds.Scope] = limiter
	return limiter
}

// Breaker exposes the breaker used for a base URL, mainly for status reporting.
func (o *Orchestrator) Breaker(baseURL string) *CircuitBreaker {
	if o.Breakers == nil {
		return nil
	}
	return o.Breakers.Get(dependencyName(baseURL))
}

func (o *Orchestrator) log() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

func (o *Orchestrator) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return otel.Tracer(tracerName)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

func scopeStatusFor(ctx context.Context, err error, pagesProcessed int) core.ScopeStatus {
	var (
		open *core.CircuitOpenError
		auth *core.AuthError
	)
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return core.ScopeCancelled
	case errors.As(err, &auth):
		return core.ScopeFailed
	case errors.As(err, &open):
		return core.ScopeDegraded
	case pagesProcessed > 0:
		return core.ScopeDegraded
	default:
		return core.ScopeFailed
	}
}

func statusCodeOf(err error) int {
	var (
		transient   *core.TransientNetworkError
		auth        *core.AuthError
		rateLimited *core.RateLimitExceededError
	)
	switch {
	case errors.As(err, &auth):
		return auth.StatusCode
	case errors.As(err, &rateLimited):
		return 429
	case errors.As(err, &transient):
		return transient.StatusCode
	default:
		return 0
	}
}

func dependencyName(baseURL string) string {
	if parsed, err := url.Parse(strings.TrimSpace(baseURL)); err == nil && parsed.Host != "" {
		return "marketplace:" + strings.ToLower(parsed.Host)
	}
	return "marketplace"
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
