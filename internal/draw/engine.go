package draw

import (
	"time"

	"luckydraw/internal/models"
)

// TenureYear is the year length used by the tenure rule (365.25 days).
const TenureYear = 8766 * time.Hour

// Policy describes which tiers carry a tenure requirement.
type Policy struct {
	// TopTiers is the number of most valuable tiers that require MinTenure.
	TopTiers int
	// MinTenure is the minimum elapsed time since the hire date for top tiers.
	MinTenure time.Duration
}

// DefaultPolicy requires two years of tenure for the first three tiers.
func DefaultPolicy() Policy {
	return Policy{TopTiers: 3, MinTenure: 2 * TenureYear}
}

// RequiresTenure reports whether tier is subject to the tenure rule.
func (p Policy) RequiresTenure(tier models.Tier) bool {
	return p.MinTenure > 0 && int(tier) <= p.TopTiers
}

// Engine filters eligible participants and draws winners.
// It holds no draw state; callers own the roster and the winners list.
type Engine struct {
	Policy Policy
	Source Source
	Clock  func() time.Time
}

// NewEngine creates an Engine. A nil source falls back to crypto/rand.
func NewEngine(policy Policy, source Source) *Engine {
	if source == nil {
		source = NewCryptoSource()
	}
	return &Engine{Policy: policy, Source: source, Clock: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

// Tenured reports whether p has been employed for at least the policy's minimum tenure.
func (e *Engine) Tenured(p models.Participant) bool {
	return e.now().Sub(p.HireDate) >= e.Policy.MinTenure
}

// FilterEligible returns the roster members that may win tier, in roster order.
// Anyone whose employee ID is in pastWinners is excluded regardless of tier.
func (e *Engine) FilterEligible(roster []models.Participant, pastWinners map[string]struct{}, tier models.Tier) []models.Participant {
	checkTenure := e.Policy.RequiresTenure(tier)
	pool := make([]models.Participant, 0, len(roster))
	for _, p := range roster {
		if _, won := pastWinners[p.EmployeeID]; won {
			continue
		}
		if checkTenure && !e.Tenured(p) {
			continue
		}
		pool = append(pool, p)
	}
	return pool
}

// DrawWinners picks min(count, len(pool)) distinct participants uniformly at random.
// Each pick takes a random index of a shrinking working copy and removes it,
// so a seeded Source always yields the same winners for the same pool.
// The pool itself is left untouched.
func (e *Engine) DrawWinners(pool []models.Participant, count int) []models.Participant {
	if count <= 0 || len(pool) == 0 {
		return []models.Participant{}
	}

	work := make([]models.Participant, len(pool))
	copy(work, pool)

	selected := make([]models.Participant, 0, min(count, len(work)))
	picked := make(map[string]struct{}, cap(selected))
	for len(selected) < count && len(work) > 0 {
		i := e.Source.IntN(len(work))
		p := work[i]
		work = append(work[:i], work[i+1:]...)

		if _, dup := picked[p.EmployeeID]; dup {
			continue
		}
		picked[p.EmployeeID] = struct{}{}
		selected = append(selected, p)
	}
	return selected
}

// Result is the outcome of a single draw.
type Result struct {
	Tier      models.Tier
	Requested int
	Pool      []models.Participant
	Selected  []models.Participant
}

// Short reports whether fewer winners were drawn than requested.
func (r Result) Short() bool {
	return len(r.Selected) < r.Requested
}

// Draw filters the roster for tier and draws count winners from the pool.
func (e *Engine) Draw(roster []models.Participant, pastWinners map[string]struct{}, tier models.Tier, count int) Result {
	pool := e.FilterEligible(roster, pastWinners, tier)
	return Result{
		Tier:      tier,
		Requested: count,
		Pool:      pool,
		Selected:  e.DrawWinners(pool, count),
	}
}

// WinnerIDs builds the past-winner set used by FilterEligible.
func WinnerIDs(winners []models.Winner) map[string]struct{} {
	ids := make(map[string]struct{}, len(winners))
	for _, w := range winners {
		ids[w.EmployeeID] = struct{}{}
	}
	return ids
}
