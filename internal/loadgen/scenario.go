// Package loadgen generates vesting workloads for the load generator CLI.
package loadgen

import (
	"math/rand"
	"sync"
	"time"

	"gradify.org/internal/vesting"
)

// Scenario shapes the grants a run creates.
type Scenario struct {
	Name      string
	Companies []string
	// Grant bounds the total amount per employee.
	MinGrant, MaxGrant uint64
	// Span is the vesting length of every schedule.
	Span time.Duration
}

// StartupScenario is a handful of companies with short schedules that vest
// during a run of a few minutes.
func StartupScenario() Scenario {
	return Scenario{
		Name:      "StartupEquityRound",
		Companies: []string{"Gradify", "Northwind", "Umbrella"},
		MinGrant:  1_000,
		MaxGrant:  50_000,
		Span:      2 * time.Minute,
	}
}

// Generator draws schedules from a scenario. It is safe for concurrent use.
type Generator struct {
	scenario Scenario
	mu       sync.Mutex
	rnd      *rand.Rand
}

func NewGenerator(s Scenario, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if s.MinGrant == 0 {
		s.MinGrant = 1
	}
	if s.MaxGrant < s.MinGrant {
		s.MaxGrant = s.MinGrant
	}
	if s.Span < 2*time.Second {
		s.Span = 2 * time.Second
	}
	return &Generator{scenario: s, rnd: rand.New(rand.NewSource(seed))}
}

func (g *Generator) Scenario() Scenario { return g.scenario }

// NextSchedule returns a valid schedule that starts at or before now, with
// a cliff somewhere in its first half.
func (g *Generator) NextSchedule(now time.Time) vesting.Schedule {
	g.mu.Lock()
	defer g.mu.Unlock()

	span := int64(g.scenario.Span / time.Second)
	start := now.Unix() - g.rnd.Int63n(span/2+1)
	cliff := start + g.rnd.Int63n(span/2+1)
	amount := g.scenario.MinGrant
	if spread := g.scenario.MaxGrant - g.scenario.MinGrant; spread > 0 {
		amount += uint64(g.rnd.Int63n(int64(min(spread, 1<<62)) + 1))
	}
	return vesting.Schedule{
		StartTime:   start,
		CliffTime:   cliff,
		EndTime:     start + span,
		TotalAmount: amount,
	}
}

// Jitter returns a pause between base and base+spread.
func (g *Generator) Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return base + time.Duration(g.rnd.Int63n(int64(spread)))
}
