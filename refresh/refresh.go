// Package refresh keeps an access token fresh for the lifetime of a session.
//
// The Coordinator guarantees at most one refresh call in flight. Callers that
// arrive during a refresh wait for its outcome in arrival order. Transient
// failures are retried with exponential backoff; anything else ends the
// session and clears the stored tokens. A timer refreshes proactively shortly
// before the access token expires. The outcome of a refresh that outlives its
// session, through logout or a new login, is discarded.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/audit"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/internal/redact"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/metrics"
	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/token"
)

// Backoff defaults.
const (
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 10 * time.Second
)

// ErrClosed is returned to callers waiting when the coordinator is closed.
var ErrClosed = errors.New("authsession/refresh: coordinator closed")

// Trigger labels what started a refresh.
type Trigger string

const (
	TriggerEnsure   Trigger = "ensure"
	TriggerTimer    Trigger = "timer"
	TriggerReactive Trigger = "reactive"
	TriggerManual   Trigger = "manual"
)

// State is the coarse coordinator state.
type State int

const (
	Idle State = iota
	Refreshing
	Scheduled
)

func (s State) String() string {
	switch s {
	case Refreshing:
		return "refreshing"
	case Scheduled:
		return "scheduled"
	default:
		return "idle"
	}
}

// Refresher exchanges a refresh token for a new pair. authsession.AuthAPI satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authsession.TokenPair, error)
}

type outcome struct {
	token string
	err   error
}

// flight is one refresh in progress and the callers waiting on it. It belongs
// to the session epoch it was started in.
type flight struct {
	epoch   uint64
	waiters []chan outcome
}

// Coordinator implements authsession.TokenSource.
type Coordinator struct {
	api      Refresher
	store    authsession.TokenStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	observer authsession.RefreshObserver
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	buffer      time.Duration
	minInterval time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	// cancelled by Close; aborts backoff sleeps and timer refreshes
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// bumped by Schedule and Stop; the outcome of a flight from an older
	// epoch is discarded
	epoch         uint64
	flight        *flight
	retryCount    int
	lastAttemptAt time.Time
	timer         *time.Timer
	timerGen      uint64
	nextRefreshAt time.Time
	closed        bool
}

// compile-time check
var _ authsession.TokenSource = (*Coordinator)(nil)

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithAudit sets the audit logger for refresh and expiry events.
func WithAudit(a *audit.Logger) Option {
	return func(c *Coordinator) { c.audit = a }
}

// WithObserver sets the refresh observer.
func WithObserver(o authsession.RefreshObserver) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSleep overrides the backoff sleeper. It must return early with the
// context error when ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// WithRefreshBuffer sets how long before expiry a token is refreshed. Default: 5 minutes.
func WithRefreshBuffer(d time.Duration) Option {
	return func(c *Coordinator) { c.buffer = d }
}

// WithMinRefreshInterval sets the minimum time between refresh attempts. Default: 30 seconds.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.minInterval = d }
}

// WithMaxRetries bounds the attempts of one refresh. Default: 3.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// WithBackoff sets the first retry delay and the delay ceiling. Default: 1s, 10s.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Coordinator) {
		c.baseBackoff = base
		c.maxBackoff = max
	}
}

// WithConfig applies the tuning values of cfg.
func WithConfig(cfg authsession.Config) Option {
	return func(c *Coordinator) {
		if cfg.RefreshBuffer > 0 {
			c.buffer = cfg.RefreshBuffer
		}
		if cfg.MinRefreshInterval > 0 {
			c.minInterval = cfg.MinRefreshInterval
		}
		if cfg.MaxRetries > 0 {
			c.maxRetries = cfg.MaxRetries
		}
	}
}

// New creates a coordinator refreshing through api and persisting to store.
func New(api Refresher, store authsession.TokenStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:         api,
		store:       store,
		logger:      slog.Default(),
		observer:    authsession.ObserverFuncs{},
		now:         time.Now,
		sleep:       sleepContext,
		buffer:      authsession.DefaultRefreshBuffer,
		minInterval: authsession.DefaultMinRefreshInterval,
		maxRetries:  authsession.DefaultMaxRetries,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// EnsureValidToken returns the stored access token when it is outside the
// refresh buffer, and refreshes first otherwise. It returns "" with a nil
// error when there is no session. When the refresh is skipped by the rate
// guard, the stored token is still returned as long as it has not expired.
func (c *Coordinator) EnsureValidToken(ctx context.Context) (string, error) {
	pair := c.store.Load(ctx)
	if pair.AccessToken == "" {
		return "", nil
	}
	if !token.ExpiresWithin(pair.AccessToken, c.now(), c.buffer) {
		return pair.AccessToken, nil
	}

	tok, err := c.refresh(ctx, TriggerEnsure)
	if err != nil {
		return "", err
	}
	if tok != "" {
		return tok, nil
	}
	return c.usableStoredToken(ctx), nil
}

// Refresh forces a refresh after the server rejected the current token.
// It joins a refresh already in flight and returns "" with a nil error when
// the rate guard skipped the attempt.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx, TriggerReactive)
}

// RefreshNow is Refresh for explicit user requests.
func (c *Coordinator) RefreshNow(ctx context.Context) (string, error) {
	return c.refresh(ctx, TriggerManual)
}

// QueueRequest waits for the in-flight refresh (starting one if idle) and
// runs fn with the resulting token. If the rate guard skipped the refresh, fn
// runs with the stored token when it is still unexpired; otherwise
// authsession.ErrRefreshThrottled is returned.
func QueueRequest[T any](ctx context.Context, c *Coordinator, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	tok, err := c.refresh(ctx, TriggerReactive)
	if err != nil {
		return zero, err
	}
	if tok == "" {
		tok = c.usableStoredToken(ctx)
		if tok == "" {
			return zero, authsession.ErrRefreshThrottled
		}
	}
	return fn(authsession.WithAccessToken(ctx, tok), tok)
}

func (c *Coordinator) usableStoredToken(ctx context.Context) string {
	cur := c.store.Load(ctx).AccessToken
	if cur == "" || token.IsExpired(cur, c.now()) {
		return ""
	}
	return cur
}

// refresh joins or starts a refresh and waits for its outcome.
func (c *Coordinator) refresh(ctx context.Context, trigger Trigger) (string, error) {
	ch := make(chan outcome, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if f := c.flight; f != nil {
		f.waiters = append(f.waiters, ch)
		c.metrics.SetWaiters(len(f.waiters))
		c.mu.Unlock()

		c.metrics.RecordRefreshResult(metrics.ResultJoined)
		return wait(ctx, ch)
	}

	now := c.now()
	if !c.lastAttemptAt.IsZero() && now.Sub(c.lastAttemptAt) < c.minInterval {
		since := now.Sub(c.lastAttemptAt)
		c.mu.Unlock()

		c.metrics.RecordRefreshResult(metrics.ResultThrottled)
		c.logger.Debug("refresh skipped by rate guard", "trigger", string(trigger), "since_last", since)
		return "", nil
	}

	f := &flight{epoch: c.epoch, waiters: []chan outcome{ch}}
	c.flight = f
	c.lastAttemptAt = now
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.RecordRefreshAttempt(string(trigger))
	go c.run(ctx, trigger, f)

	return wait(ctx, ch)
}

func wait(ctx context.Context, ch <-chan outcome) (string, error) {
	select {
	case o := <-ch:
		return o.token, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run performs one refresh with retries. It is detached from the caller's
// cancellation: other callers may be waiting on the same result.
func (c *Coordinator) run(callerCtx context.Context, trigger Trigger, f *flight) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(callerCtx))
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	started := time.Now()
	defer func() { c.metrics.RecordRefreshDuration(time.Since(started).Seconds()) }()

	c.mu.Lock()
	current := f.epoch == c.epoch
	var old authsession.TokenPair
	if current {
		old = c.store.Load(ctx)
	}
	c.mu.Unlock()

	if !current {
		c.discard(trigger, f)
		return
	}
	if old.RefreshToken == "" {
		c.fail(ctx, trigger, f, authsession.ErrNoSession)
		return
	}

	pair, err := c.attempt(ctx, f, old.RefreshToken)
	if err != nil {
		if c.ctx.Err() != nil {
			c.abandon(f)
			return
		}
		c.fail(ctx, trigger, f, err)
		return
	}

	if pair.RefreshToken == "" {
		// server did not rotate the refresh token
		pair.RefreshToken = old.RefreshToken
	}
	c.succeed(ctx, trigger, f, *pair)
}

// attempt calls the API up to maxRetries times, sleeping between retryable failures.
func (c *Coordinator) attempt(ctx context.Context, f *flight, refreshToken string) (*authsession.TokenPair, error) {
	for n := 1; ; n++ {
		pair, err := c.api.Refresh(ctx, refreshToken)
		if err == nil && (pair == nil || pair.AccessToken == "") {
			err = errors.New("authsession/refresh: response carried no access token")
		}
		if err == nil {
			return pair, nil
		}

		c.mu.Lock()
		if f.epoch == c.epoch {
			c.retryCount = n
		}
		c.mu.Unlock()

		if !authsession.IsRetryable(err) || n >= c.maxRetries {
			return nil, err
		}

		delay := c.Backoff(n)
		c.metrics.RecordRetry()
		c.logger.Warn("refresh attempt failed, retrying",
			"attempt", n, "max_retries", c.maxRetries, "delay", delay, "error", err)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Backoff returns the delay after the given failed attempt:
// base * 2^(attempt-1), capped at the maximum.
func (c *Coordinator) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return min(d, c.maxBackoff)
}

func (c *Coordinator) succeed(ctx context.Context, trigger Trigger, f *flight, pair authsession.TokenPair) {
	c.mu.Lock()
	if f.epoch != c.epoch {
		c.mu.Unlock()
		c.discard(trigger, f)
		return
	}
	c.store.Save(ctx, pair.AccessToken, pair.RefreshToken)
	waiters := c.detachLocked(f)
	c.retryCount = 0
	c.lastAttemptAt = c.now()
	c.armLocked(pair.AccessToken, c.minInterval)
	c.mu.Unlock()

	c.metrics.RecordRefreshResult(metrics.ResultSuccess)
	c.logger.Info("access token refreshed",
		"trigger", string(trigger), "waiters", len(waiters), "token", redact.TokenTail(pair.AccessToken))
	c.audit.Log(c.event(audit.ActionRefresh, trigger, pair.AccessToken, nil))
	c.observer.OnRefreshSuccess(pair.AccessToken)

	for _, w := range waiters {
		w <- outcome{token: pair.AccessToken}
	}
}

// fail ends the session: tokens are cleared and every waiter is rejected.
func (c *Coordinator) fail(ctx context.Context, trigger Trigger, f *flight, cause error) {
	c.mu.Lock()
	if f.epoch != c.epoch {
		c.mu.Unlock()
		c.discard(trigger, f)
		return
	}
	expiring := c.store.Load(ctx).AccessToken
	c.store.Clear(ctx)
	waiters := c.detachLocked(f)
	c.stopTimerLocked()
	c.mu.Unlock()

	err := fmt.Errorf("%w: %w", authsession.ErrSessionExpired, cause)

	c.metrics.RecordRefreshResult(metrics.ResultFailure)
	c.logger.Error("refresh failed, session ended", "trigger", string(trigger), "error", cause)
	c.audit.Log(c.event(audit.ActionRefresh, trigger, expiring, cause))
	c.audit.Log(c.event(audit.ActionSessionExpired, trigger, expiring, cause))
	c.observer.OnRefreshFailure(err)
	c.observer.OnTokenExpired()

	for _, w := range waiters {
		w <- outcome{err: err}
	}
}

// discard settles a flight whose session was logged out or replaced while it
// ran. Stored tokens, the timer and the observers are left alone.
func (c *Coordinator) discard(trigger Trigger, f *flight) {
	c.mu.Lock()
	waiters := c.detachLocked(f)
	c.mu.Unlock()

	c.metrics.RecordRefreshResult(metrics.ResultDiscarded)
	c.logger.Info("refresh outcome discarded, session changed while refreshing",
		"trigger", string(trigger), "waiters", len(waiters))

	for _, w := range waiters {
		w <- outcome{err: authsession.ErrNoSession}
	}
}

// abandon rejects waiters after Close without touching stored tokens.
func (c *Coordinator) abandon(f *flight) {
	c.mu.Lock()
	waiters := c.detachLocked(f)
	c.mu.Unlock()

	for _, w := range waiters {
		w <- outcome{err: ErrClosed}
	}
}

func (c *Coordinator) detachLocked(f *flight) []chan outcome {
	if c.flight == f {
		c.flight = nil
		c.metrics.SetWaiters(0)
	}
	waiters := f.waiters
	f.waiters = nil
	return waiters
}

// newEpochLocked starts a new session epoch. A refresh still in flight keeps
// its waiters but no longer accepts new ones.
func (c *Coordinator) newEpochLocked() {
	c.epoch++
	if c.flight != nil {
		c.flight = nil
		c.metrics.SetWaiters(0)
	}
}

func (c *Coordinator) event(action audit.Action, trigger Trigger, accessToken string, err error) audit.Event {
	e := audit.Event{
		Action:  action,
		Result:  audit.ResultOf(err),
		Trigger: string(trigger),
	}
	if claims, ok := token.DecodeClaims(accessToken); ok {
		e.UserID = claims.Subject
		e.TenantID = claims.TenantID
		e.Email = redact.Email(claims.Email)
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Schedule arms the proactive timer for a freshly opened session and resets
// the rate guard so the new session is not throttled by the previous one.
// Call it before persisting the new pair: from here on the outcome of a
// refresh started for the previous session is discarded.
func (c *Coordinator) Schedule(pair authsession.TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.newEpochLocked()
	c.retryCount = 0
	c.lastAttemptAt = time.Time{}
	c.armLocked(pair.AccessToken, 0)
}

// armLocked (re)arms the timer at exp - buffer. A token already inside the
// buffer is timed at floor instead, provided it outlives it; with no floor it
// gets no timer and the next EnsureValidToken refreshes it.
func (c *Coordinator) armLocked(accessToken string, floor time.Duration) {
	c.stopTimerLocked()

	exp, ok := token.ExpiresAt(accessToken)
	if !ok {
		return
	}
	now := c.now()
	delay := exp.Sub(now) - c.buffer
	if delay <= 0 {
		if floor <= 0 || exp.Sub(now) <= floor {
			return
		}
		delay = floor
	}

	gen := c.timerGen
	c.nextRefreshAt = now.Add(delay)
	c.timer = time.AfterFunc(delay, func() { c.onTimer(gen) })
}

func (c *Coordinator) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.nextRefreshAt = time.Time{}
}

func (c *Coordinator) onTimer(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.nextRefreshAt = time.Time{}
	c.mu.Unlock()

	tok, err := c.refresh(c.ctx, TriggerTimer)
	switch {
	case err != nil:
		if !errors.Is(err, ErrClosed) && c.ctx.Err() == nil {
			c.logger.Warn("proactive refresh failed", "error", err)
		}
	case tok == "":
		c.rearmThrottled(gen)
	}
}

// rearmThrottled retries a timer refresh skipped by the rate guard once the
// guard opens, unless the timer was re-armed or stopped meanwhile.
func (c *Coordinator) rearmThrottled(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.timerGen || c.closed {
		return
	}
	wait := max(c.lastAttemptAt.Add(c.minInterval).Sub(c.now()), time.Millisecond)
	c.armLocked(c.store.Load(c.ctx).AccessToken, wait)
}

// Stop disarms the proactive timer and discards the outcome of any refresh
// in flight. Used on logout.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newEpochLocked()
	c.stopTimerLocked()
}

// Close stops the timer, aborts any refresh in progress without clearing
// stored tokens and waits for background work to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

// State reports the coarse coordinator state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.flight != nil:
		return Refreshing
	case c.timer != nil:
		return Scheduled
	default:
		return Idle
	}
}

// NextRefreshAt returns when the proactive timer fires, or the zero time.
func (c *Coordinator) NextRefreshAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRefreshAt
}

// RetryCount returns the failed attempts of the current or last refresh.
// It resets to zero on success.
func (c *Coordinator) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Waiters returns the number of callers waiting on the in-flight refresh.
func (c *Coordinator) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flight == nil {
		return 0
	}
	return len(c.flight.waiters)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
