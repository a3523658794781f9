// Package pacing provides the delay policy of the collector. Every wait is
// drawn from an injectable Sampler so tests can run with Zero().
package pacing

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Rand is the randomness a sampler needs. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	NormFloat64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) NormFloat64() float64 { return rand.NormFloat64() }

// Global draws from the process-wide math/rand/v2 source.
var Global Rand = globalRand{}

// Sampler draws one delay.
type Sampler interface {
	Sample() time.Duration
}

// LogNormal draws from a log-normal distribution centred on the midpoint of
// [Min, Max] and clamps the result into that range. Most draws land near the
// middle with an occasional long pause, which reads less like a timer than a
// uniform draw.
type LogNormal struct {
	Min, Max time.Duration
	Sigma    float64 // Default: 0.5.
	Rand     Rand    // Default: Global.
}

func (l LogNormal) Sample() time.Duration {
	if l.Max <= l.Min {
		return l.Min
	}
	sigma := l.Sigma
	if sigma <= 0 {
		sigma = 0.5
	}
	r := l.Rand
	if r == nil {
		r = Global
	}
	mu := math.Log((l.Min.Seconds() + l.Max.Seconds()) / 2)
	d := time.Duration(math.Round(math.Exp(mu+sigma*r.NormFloat64()) * float64(time.Second)))
	return min(max(d, l.Min), l.Max)
}

// Uniform draws uniformly from [Min, Max).
type Uniform struct {
	Min, Max time.Duration
	Rand     Rand
}

func (u Uniform) Sample() time.Duration {
	if u.Max <= u.Min {
		return u.Min
	}
	r := u.Rand
	if r == nil {
		r = Global
	}
	return u.Min + time.Duration(r.Float64()*float64(u.Max-u.Min))
}

// Fixed always returns the same delay.
type Fixed time.Duration

func (f Fixed) Sample() time.Duration { return time.Duration(f) }

// Spec is the configuration form of a Sampler.
type Spec struct {
	Kind  string        `yaml:"kind"` // lognormal | uniform | fixed
	Min   time.Duration `yaml:"min"`
	Max   time.Duration `yaml:"max"`
	Sigma float64       `yaml:"sigma"`
}

// Build turns a Spec into a Sampler. An empty kind means lognormal. Fixed
// uses Min.
func (s Spec) Build(r Rand) (Sampler, error) {
	if s.Min < 0 || s.Max < 0 {
		return nil, fmt.Errorf("pacing: negative delay in %+v", s)
	}
	switch strings.ToLower(s.Kind) {
	case "", "lognormal":
		return LogNormal{Min: s.Min, Max: s.Max, Sigma: s.Sigma, Rand: r}, nil
	case "uniform":
		return Uniform{Min: s.Min, Max: s.Max, Rand: r}, nil
	case "fixed":
		return Fixed(s.Min), nil
	}
	return nil, fmt.Errorf("pacing: unknown distribution %q", s.Kind)
}

// DefaultSessionEvery is the number of pages between session breaks.
const DefaultSessionEvery = 10

// Policy groups every wait of a collection run.
type Policy struct {
	PageDelay      Sampler // between successful pages
	SessionBreak   Sampler // replaces PageDelay every SessionEvery pages
	SessionEvery   int
	CategoryPause  Sampler // between categories of a store
	CataloguePause Sampler // between catalogue categories; nil uses CategoryPause
	StorePause     Sampler // between stores
	BlockCooldown  time.Duration
	BaseBackoff    time.Duration // multiplied by the consecutive failure count
}

// Default is the production policy.
func Default() Policy {
	return Policy{
		PageDelay:     LogNormal{Min: 30 * time.Second, Max: 90 * time.Second},
		SessionBreak:  Uniform{Min: 2 * time.Minute, Max: 5 * time.Minute},
		SessionEvery:  DefaultSessionEvery,
		CategoryPause:  Uniform{Min: 1 * time.Minute, Max: 3 * time.Minute},
		CataloguePause: Uniform{Min: 3 * time.Minute, Max: 7 * time.Minute},
		StorePause:     Uniform{Min: 3 * time.Minute, Max: 7 * time.Minute},
		BlockCooldown:  10 * time.Minute,
		BaseBackoff:    10 * time.Second,
	}
}

// Zero is a policy that never waits.
func Zero() Policy {
	return Policy{
		PageDelay:     Fixed(0),
		SessionBreak:  Fixed(0),
		SessionEvery:  DefaultSessionEvery,
		CategoryPause:  Fixed(0),
		CataloguePause: Fixed(0),
		StorePause:     Fixed(0),
	}
}

// BetweenPages returns the wait after the pagesDone-th successful page and
// whether it is a session break.
func (p Policy) BetweenPages(pagesDone int) (time.Duration, bool) {
	if p.SessionEvery > 0 && pagesDone > 0 && pagesDone%p.SessionEvery == 0 {
		return sample(p.SessionBreak), true
	}
	return sample(p.PageDelay), false
}

// Backoff returns the wait after the n-th consecutive failure.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseBackoff * time.Duration(n)
}

// Category returns the wait between two categories of the same store.
func (p Policy) Category(catalogue bool) time.Duration {
	if catalogue && p.CataloguePause != nil {
		return sample(p.CataloguePause)
	}
	return sample(p.CategoryPause)
}

func (p Policy) Store() time.Duration { return sample(p.StorePause) }

func sample(s Sampler) time.Duration {
	if s == nil {
		return 0
	}
	return s.Sample()
}
