// Package budget implements the Cloudflare-tier neuron quota tracker of
// §4.9: a per-day remote-embedding budget that resets at UTC midnight.
package budget

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prism/prism/pkg/chunk"
)

// defaultCostPerMillionTokens is used for models with no entry in the cost
// table; real deployments should configure per-model costs.
const defaultCostPerMillionTokens = 10.0

// Config configures a Tracker.
type Config struct {
	// DailyNeurons is the quota reset to each UTC midnight. Default 10,000
	// per §6.
	DailyNeurons float64
	// WarningThreshold triggers an idempotent-per-day warning log once
	// Used/DailyNeurons crosses it. Default 0.80 per §6.
	WarningThreshold float64
	// CostPerMillionTokens maps a model identifier to its neuron cost per
	// million tokens. Models absent from the map use defaultCostPerMillionTokens.
	CostPerMillionTokens map[string]float64
	Logger               zerolog.Logger
}

// Tracker tracks neuron consumption against a daily quota. All exported
// methods are safe for concurrent use; §5's shared-resource policy notes
// that CanAfford followed by TrackUsage is not atomic as a pair — a caller
// observing CanAfford=true may still have TrackUsage push the total over
// quota if it races with a concurrent tracker. That race is accepted and
// resolved by letting TrackUsage proceed (§5, §9).
type Tracker struct {
	mu sync.Mutex

	dailyNeurons  float64
	warningAt     float64
	costs         map[string]float64
	logger        zerolog.Logger

	used          float64
	resetsAt      time.Time
	warnedToday   bool
}

// New creates a Tracker with the given configuration, applying the §6
// defaults for any zero-valued fields.
func New(cfg Config) *Tracker {
	if cfg.DailyNeurons <= 0 {
		cfg.DailyNeurons = 10_000
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.80
	}
	return &Tracker{
		dailyNeurons: cfg.DailyNeurons,
		warningAt:    cfg.WarningThreshold,
		costs:        cfg.CostPerMillionTokens,
		logger:       cfg.Logger,
		resetsAt:     nextUTCMidnight(time.Now().UTC()),
	}
}

func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if !now.Before(midnight) {
		midnight = midnight.AddDate(0, 0, 1)
	}
	return midnight
}

// autoResetLocked applies the §3 BudgetState invariant: on any observation
// with now >= resetsAt, the state resets to zero and resetsAt advances to
// the next UTC midnight. Caller must hold t.mu.
func (t *Tracker) autoResetLocked(now time.Time) {
	if !now.Before(t.resetsAt) {
		t.used = 0
		t.warnedToday = false
		t.resetsAt = nextUTCMidnight(now)
	}
}

// NeuronsFor computes neuronsNeeded = costPerMillionTokens[model] * tokens / 1e6.
func (t *Tracker) NeuronsFor(model string, tokens int) float64 {
	t.mu.Lock()
	cost, ok := t.costs[model]
	t.mu.Unlock()
	if !ok {
		cost = defaultCostPerMillionTokens
	}
	return cost * float64(tokens) / 1_000_000
}

// CanAfford reports whether tokens worth of usage against model would fit
// within the remaining daily quota, without reserving anything (§5: an
// optimistic read).
func (t *Tracker) CanAfford(model string, tokens int) bool {
	return t.CanAffordNeurons(t.NeuronsFor(model, tokens))
}

// CanAffordNeurons reports whether neurons of usage, already expressed in
// the quota's own unit, would fit within the remaining daily quota. Unlike
// CanAfford it does not run the tokens-to-neurons cost formula — callers
// that already know their neuron count (e.g. EmbeddingClient, which derives
// it from batch size * embedding dimension per §4.2) must charge it
// directly here rather than re-deriving it through CostPerMillionTokens.
func (t *Tracker) CanAffordNeurons(neurons float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoResetLocked(time.Now())
	return t.used+neurons <= t.dailyNeurons
}

// TrackUsage records tokens worth of usage against model, unconditionally
// (§5: the compare-and-increment half of the non-atomic canAfford/trackUsage
// pair). If the updated total crosses WarningThreshold, a warning is logged
// once per day.
func (t *Tracker) TrackUsage(model string, tokens int) {
	t.TrackNeurons(t.NeuronsFor(model, tokens))
}

// TrackNeurons records neurons of usage, already expressed in the quota's
// own unit, unconditionally. See CanAffordNeurons for why callers that
// already hold a neuron count bypass the tokens-to-neurons cost formula.
func (t *Tracker) TrackNeurons(neurons float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.autoResetLocked(now)
	t.used += neurons

	if !t.warnedToday && t.dailyNeurons > 0 && t.used/t.dailyNeurons >= t.warningAt {
		t.warnedToday = true
		t.logger.Warn().
			Float64("used", t.used).
			Float64("daily_limit", t.dailyNeurons).
			Float64("percentage", t.used/t.dailyNeurons).
			Msg("neuron budget warning threshold crossed")
	}
}

// Stats returns the current BudgetState-shaped observation.
func (t *Tracker) Stats() (used, remaining, percentage float64, resetsAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoResetLocked(time.Now())

	remaining = t.dailyNeurons - t.used
	if remaining < 0 {
		remaining = 0
	}
	pct := 0.0
	if t.dailyNeurons > 0 {
		pct = t.used / t.dailyNeurons
	}
	return t.used, remaining, pct, t.resetsAt
}

// State returns the BudgetState value type for callers that want the
// plain struct shape.
func (t *Tracker) State() chunk.BudgetState {
	used, _, _, resetsAt := t.Stats()
	return chunk.BudgetState{Used: used, ResetsAt: resetsAt}
}

// Reset zeroes consumption immediately and advances resetsAt to the next
// UTC midnight after now, regardless of whether the natural reset time has
// arrived. Provided for tests and long-running hosts (§9).
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = 0
	t.warnedToday = false
	t.resetsAt = nextUTCMidnight(time.Now())
}
