// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger tracks each provider's externally metered credits balance.
//
// Every registered provider carries a status (OK, WARNING, CRITICAL,
// EXHAUSTED) derived from its balance and thresholds. Balance updates walk
// the status one adjacent step at a time and publish a status-change event
// per step. While a provider sits below OK every update publishes the
// matching alert again, even without a transition.
//
// Consumption is bucketed per hour and per day for prediction. An optional
// Store keeps a durable history of consumption and transitions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/rootgate/internal/clock"
	"github.com/jeranaias/rootgate/internal/events"
	"github.com/jeranaias/rootgate/internal/metrics"
	"github.com/jeranaias/rootgate/internal/model"
)

const (
	// MaxProbeFailures consecutive failed balance probes mark a provider
	// inactive.
	MaxProbeFailures = 3

	hourKeyLayout = "2006-01-02T15"
	dayKeyLayout  = "2006-01-02"
)

var (
	// ErrUnknownProvider is returned for ids that were never registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrAlreadyRegistered is returned when an id is registered twice.
	ErrAlreadyRegistered = errors.New("provider already registered")
	// ErrNoHistory is returned by History when no store is configured.
	ErrNoHistory = errors.New("credit history not enabled")
)

// CreditSource is the part of a provider adapter the ledger needs.
type CreditSource interface {
	ID() string
	CheckCredits(ctx context.Context) (model.CreditInfo, error)
}

// StatusChange is the payload of events.ProviderStatusChanged.
type StatusChange struct {
	From    Status `json:"from"`
	To      Status `json:"to"`
	Credits int    `json:"credits"`
}

// Alert is the payload of the warning, critical and exhausted events.
type Alert struct {
	Status    Status `json:"status"`
	Credits   int    `json:"credits"`
	Threshold int    `json:"threshold"`
}

// Update is the payload of events.CreditsUpdated.
type Update struct {
	Credits  int    `json:"credits"`
	Consumed int    `json:"consumed"`
	Status   Status `json:"status"`
}

// Snapshot is a copy of one provider's state.
type Snapshot struct {
	ProviderID          string         `json:"provider_id"`
	Credits             int            `json:"credits"`
	Level               model.Level    `json:"level"`
	Status              Status         `json:"status"`
	Thresholds          Thresholds     `json:"thresholds"`
	TotalConsumed       int            `json:"total_consumed"`
	ConsumptionByHour   map[string]int `json:"consumption_by_hour"`
	ConsumptionByDay    map[string]int `json:"consumption_by_day"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	IsActive            bool           `json:"is_active"`
	RegisteredAt        time.Time      `json:"registered_at"`
	LastUpdated         time.Time      `json:"last_updated"`
}

// Overview aggregates every provider.
type Overview struct {
	Providers     []Snapshot     `json:"providers"`
	TotalCredits  int            `json:"total_credits"`
	TotalConsumed int            `json:"total_consumed"`
	Active        int            `json:"active"`
	ByStatus      map[string]int `json:"by_status"`
}

// Options configures a Ledger.
type Options struct {
	Clock   clock.Clock
	Bus     *events.Bus
	Store   Store
	Metrics *metrics.Metrics
}

type providerState struct {
	source     CreditSource
	credits    int
	level      model.Level
	status     Status
	thresholds Thresholds

	totalConsumed int
	byHour        map[string]int
	byDay         map[string]int

	consecutiveFailures int
	isActive            bool

	registeredAt time.Time
	lastUpdated  time.Time

	// outbox holds side effects in state order; one goroutine drains it.
	outbox   []func()
	draining bool
}

func (p *providerState) snapshot(id string) Snapshot {
	byHour := make(map[string]int, len(p.byHour))
	for k, v := range p.byHour {
		byHour[k] = v
	}
	byDay := make(map[string]int, len(p.byDay))
	for k, v := range p.byDay {
		byDay[k] = v
	}
	return Snapshot{
		ProviderID:          id,
		Credits:             p.credits,
		Level:               p.level,
		Status:              p.status,
		Thresholds:          p.thresholds,
		TotalConsumed:       p.totalConsumed,
		ConsumptionByHour:   byHour,
		ConsumptionByDay:    byDay,
		ConsecutiveFailures: p.consecutiveFailures,
		IsActive:            p.isActive,
		RegisteredAt:        p.registeredAt,
		LastUpdated:         p.lastUpdated,
	}
}

// pending is an event collected under the lock and delivered after it is
// released.
type pending struct {
	kind    events.Kind
	payload any
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is safe for concurrent use. Listeners and the store are never
// called with the ledger lock held. Per provider, events, store writes and
// gauges are delivered in the order the state changed. A listener may call
// back into the ledger; events it causes are delivered after it returns.
type Ledger struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	order     []string

	clock   clock.Clock
	bus     *events.Bus
	store   Store
	metrics *metrics.Metrics
}

// New creates an empty Ledger. A nil Bus gets a private one.
func New(opts Options) *Ledger {
	bus := opts.Bus
	if bus == nil {
		bus = events.New()
	}
	return &Ledger{
		providers: make(map[string]*providerState),
		clock:     clock.OrReal(opts.Clock),
		bus:       bus,
		store:     opts.Store,
		metrics:   opts.Metrics,
	}
}

// Bus returns the event bus the ledger publishes on.
func (l *Ledger) Bus() *events.Bus { return l.bus }

// On subscribes listener to kind.
func (l *Ledger) On(kind events.Kind, listener events.Listener) events.Token {
	return l.bus.On(kind, listener)
}

// Off removes a subscription.
func (l *Ledger) Off(token events.Token) bool {
	return l.bus.Off(token)
}

// RegisterProvider checks the source's starting balance and begins
// tracking it. The initial status is computed here and no transition is
// emitted for it. If the balance check fails nothing is registered.
func (l *Ledger) RegisterProvider(ctx context.Context, src CreditSource, thresholds Thresholds) error {
	if src == nil {
		return fmt.Errorf("register provider: nil source")
	}
	if err := thresholds.Validate(); err != nil {
		return fmt.Errorf("register provider %s: %w", src.ID(), err)
	}
	id := src.ID()

	l.mu.RLock()
	_, exists := l.providers[id]
	l.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	info, err := src.CheckCredits(ctx)
	if err != nil {
		return fmt.Errorf("register provider %s: check credits: %w", id, err)
	}

	balance := info.Credits
	if balance < 0 {
		balance = 0
	}
	now := l.clock.Now()
	state := &providerState{
		source:       src,
		credits:      balance,
		level:        info.Level,
		status:       thresholds.StatusFor(balance),
		thresholds:   thresholds,
		byHour:       make(map[string]int),
		byDay:        make(map[string]int),
		isActive:     true,
		registeredAt: now,
		lastUpdated:  now,
	}

	status := state.status
	state.outbox = append(state.outbox, func() {
		log.Printf("CREDITS_PROVIDER_REGISTERED | provider=%s credits=%d level=%s status=%s",
			id, balance, info.Level, status)
		l.metrics.SetCredits(id, balance, int(status))
		l.bus.Emit(events.ProviderRegistered, id, Update{Credits: balance, Status: status}, now)
	})

	l.mu.Lock()
	if _, exists := l.providers[id]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	l.providers[id] = state
	l.order = append(l.order, id)
	l.mu.Unlock()

	l.drain(state)
	return nil
}

// UpdateCredits sets a provider's balance and records consumed credits.
// A negative balance is clamped to zero.
func (l *Ledger) UpdateCredits(id string, newBalance, consumed int) (Snapshot, error) {
	return l.apply(id, consumed, func(int) int { return newBalance })
}

// Consume debits consumed credits from the current balance.
func (l *Ledger) Consume(id string, consumed int) (Snapshot, error) {
	return l.apply(id, consumed, func(current int) int { return current - consumed })
}

func (l *Ledger) apply(id string, consumed int, balance func(current int) int) (Snapshot, error) {
	now := l.clock.Now()
	var out []pending
	var transitions []Transition

	l.mu.Lock()
	p, ok := l.providers[id]
	if !ok {
		l.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}

	newBalance := balance(p.credits)
	if newBalance < 0 {
		newBalance = 0
	}
	if consumed < 0 {
		consumed = 0
	}

	if consumed > 0 {
		p.totalConsumed += consumed
		p.byHour[now.Format(hourKeyLayout)] += consumed
		p.byDay[now.Format(dayKeyLayout)] += consumed
	}

	from := p.status
	to := p.thresholds.StatusFor(newBalance)
	p.credits = newBalance
	p.status = to
	p.lastUpdated = now

	prev := from
	for _, step := range walk(from, to) {
		out = append(out, pending{events.ProviderStatusChanged, StatusChange{From: prev, To: step, Credits: newBalance}})
		transitions = append(transitions, Transition{ProviderID: id, At: now, From: prev, To: step, Credits: newBalance})
		prev = step
	}
	if kind, alerting := to.alertKind(); alerting {
		out = append(out, pending{kind, Alert{Status: to, Credits: newBalance, Threshold: p.thresholds.threshold(to)}})
	}
	out = append(out, pending{events.CreditsUpdated, Update{Credits: newBalance, Consumed: consumed, Status: to}})

	p.outbox = append(p.outbox, func() {
		if from != to {
			log.Printf("CREDITS_STATUS_CHANGED | provider=%s from=%s to=%s credits=%d", id, from, to, newBalance)
		}
		l.metrics.SetCredits(id, newBalance, int(to))
		l.persist(id, now, consumed, newBalance, transitions)
		for _, ev := range out {
			l.bus.Emit(ev.kind, id, ev.payload, now)
		}
	})

	snap := p.snapshot(id)
	l.mu.Unlock()

	l.drain(p)
	return snap, nil
}

// drain runs p's queued side effects outside the lock. If another call is
// already draining p, it picks up the new work and this call returns.
func (l *Ledger) drain(p *providerState) {
	l.mu.Lock()
	if p.draining {
		l.mu.Unlock()
		return
	}
	p.draining = true
	for len(p.outbox) > 0 {
		batch := p.outbox
		p.outbox = nil
		l.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		l.mu.Lock()
	}
	p.draining = false
	l.mu.Unlock()
}

func (l *Ledger) persist(id string, at time.Time, consumed, balance int, transitions []Transition) {
	if l.store == nil {
		return
	}
	ctx := context.Background()
	if consumed > 0 {
		if err := l.store.RecordConsumption(ctx, Consumption{ProviderID: id, At: at, Consumed: consumed, Balance: balance}); err != nil {
			log.Printf("CREDITS_STORE_ERROR | provider=%s op=consumption error=%v", id, err)
		}
	}
	for _, t := range transitions {
		if err := l.store.RecordTransition(ctx, t); err != nil {
			log.Printf("CREDITS_STORE_ERROR | provider=%s op=transition error=%v", id, err)
		}
	}
}

// ProviderStatus returns a copy of one provider's state.
func (l *Ledger) ProviderStatus(id string) (Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.providers[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p.snapshot(id), nil
}

// Credits returns a provider's last known balance.
func (l *Ledger) Credits(id string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.providers[id]
	if !ok {
		return 0, false
	}
	return p.credits, true
}

// Providers returns registered ids in registration order.
func (l *Ledger) Providers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// Overview summarises every provider.
func (l *Ledger) Overview() Overview {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ov := Overview{
		Providers: make([]Snapshot, 0, len(l.order)),
		ByStatus:  make(map[string]int),
	}
	for _, id := range l.order {
		p := l.providers[id]
		ov.Providers = append(ov.Providers, p.snapshot(id))
		ov.TotalCredits += p.credits
		ov.TotalConsumed += p.totalConsumed
		ov.ByStatus[p.status.String()]++
		if p.isActive {
			ov.Active++
		}
	}
	return ov
}

// SetThresholds replaces a provider's thresholds and re-derives its status
// through the normal update path.
func (l *Ledger) SetThresholds(id string, thresholds Thresholds) error {
	if err := thresholds.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	p, ok := l.providers[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	p.thresholds = thresholds
	l.mu.Unlock()

	_, err := l.Consume(id, 0)
	return err
}

// History returns stored consumption and transitions since the given time.
func (l *Ledger) History(ctx context.Context, id string, since time.Time) ([]Record, error) {
	if l.store == nil {
		return nil, ErrNoHistory
	}
	return l.store.History(ctx, id, since)
}

// =============================================================================
// REFRESH
// =============================================================================

// Refresh re-reads a provider's balance from its source. A failed probe
// increments the failure count; MaxProbeFailures in a row mark the provider
// inactive. A successful probe reactivates it.
func (l *Ledger) Refresh(ctx context.Context, id string) (Snapshot, error) {
	l.mu.RLock()
	p, ok := l.providers[id]
	var src CreditSource
	if ok {
		src = p.source
	}
	l.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}

	info, err := src.CheckCredits(ctx)
	now := l.clock.Now()
	if err != nil {
		l.mu.Lock()
		p.consecutiveFailures++
		failures := p.consecutiveFailures
		deactivated := failures >= MaxProbeFailures && p.isActive
		if deactivated {
			p.isActive = false
		}
		snap := p.snapshot(id)
		if deactivated {
			p.outbox = append(p.outbox, func() {
				log.Printf("CREDITS_PROVIDER_INACTIVE | provider=%s failures=%d", id, failures)
				l.bus.Emit(events.ProviderInactive, id, snap, now)
			})
		}
		l.mu.Unlock()

		log.Printf("CREDITS_PROBE_FAILED | provider=%s failures=%d error=%v", id, failures, err)
		l.drain(p)
		return snap, fmt.Errorf("refresh %s: %w", id, err)
	}

	l.mu.Lock()
	if !p.isActive {
		log.Printf("CREDITS_PROVIDER_ACTIVE | provider=%s", id)
	}
	p.consecutiveFailures = 0
	p.isActive = true
	p.level = info.Level
	l.mu.Unlock()

	return l.UpdateCredits(id, info.Credits, 0)
}

// RefreshAll refreshes every provider and joins the errors.
func (l *Ledger) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, id := range l.Providers() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := l.Refresh(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartAutoRefresh refreshes every provider each interval until ctx is
// done or the returned stop function is called.
func (l *Ledger) StartAutoRefresh(ctx context.Context, interval time.Duration) (stop func()) {
	var (
		mu      sync.Mutex
		timer   clock.Timer
		stopped bool
		tick    func()
	)

	tick = func() {
		if ctx.Err() != nil {
			return
		}
		if err := l.RefreshAll(ctx); err != nil {
			log.Printf("CREDITS_AUTO_REFRESH_ERROR | error=%v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if !stopped && ctx.Err() == nil {
			timer = l.clock.AfterFunc(interval, tick)
		}
	}

	mu.Lock()
	timer = l.clock.AfterFunc(interval, tick)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}

// =============================================================================
// PREDICTION
// =============================================================================

// Prediction projects consumption over a horizon.
type Prediction struct {
	ProviderID         string  `json:"provider_id"`
	Hours              float64 `json:"hours"`
	HourlyAverage      float64 `json:"hourly_average"`
	Projected          float64 `json:"projected"`
	Credits            int     `json:"credits"`
	ProjectedRemaining float64 `json:"projected_remaining"`
	// HoursUntilExhausted is -1 when nothing has been consumed yet.
	HoursUntilExhausted float64 `json:"hours_until_exhausted"`
	Warning             bool    `json:"warning"`
}

// PredictConsumption projects the provider's hourly average over hours.
// The average is lifetime consumption divided by the number of distinct
// hour buckets seen. Warning is set, and a predictive warning published,
// when the projected balance lands at or below the critical threshold.
func (l *Ledger) PredictConsumption(id string, hours float64) (Prediction, error) {
	if hours < 0 {
		return Prediction{}, fmt.Errorf("predict %s: negative horizon %v", id, hours)
	}

	l.mu.RLock()
	p, ok := l.providers[id]
	if !ok {
		l.mu.RUnlock()
		return Prediction{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	var avg float64
	if n := len(p.byHour); n > 0 {
		avg = float64(p.totalConsumed) / float64(n)
	}
	credits := p.credits
	th := p.thresholds
	l.mu.RUnlock()

	projected := avg * hours
	pred := Prediction{
		ProviderID:          id,
		Hours:               hours,
		HourlyAverage:       avg,
		Projected:           projected,
		Credits:             credits,
		ProjectedRemaining:  float64(credits) - projected,
		HoursUntilExhausted: -1,
	}
	if avg > 0 {
		left := float64(credits - th.Exhausted)
		if left < 0 {
			left = 0
		}
		pred.HoursUntilExhausted = left / avg
	}
	pred.Warning = pred.ProjectedRemaining <= float64(th.Critical)

	if pred.Warning {
		log.Printf("CREDITS_PREDICTIVE_WARNING | provider=%s hours=%.1f projected_remaining=%.1f critical=%d",
			id, hours, pred.ProjectedRemaining, th.Critical)
		l.bus.Emit(events.PredictiveWarning, id, pred, l.clock.Now())
	}
	return pred, nil
}

// HourBuckets returns the hour bucket keys in ascending order.
func (s Snapshot) HourBuckets() []string {
	return sortedKeys(s.ConsumptionByHour)
}

// DayBuckets returns the day bucket keys in ascending order.
func (s Snapshot) DayBuckets() []string {
	return sortedKeys(s.ConsumptionByDay)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
