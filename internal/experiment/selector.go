package experiment

import (
	"math/rand"
	"sync"
)

// DefaultEpsilon is the exploration probability of the epsilon-greedy
// bandit policy.
const DefaultEpsilon = 0.10

// Selector implements the assignment policies. Selection is a pure
// decision over the current variant results; the only state is the
// random source, which is guarded because rand.Rand is not safe for
// concurrent use.
type Selector struct {
	mu      sync.Mutex
	rng     *rand.Rand
	epsilon float64
}

// NewSelector creates a selector around the given random source.
// An epsilon outside (0,1) falls back to DefaultEpsilon.
func NewSelector(rng *rand.Rand, epsilon float64) *Selector {
	if epsilon <= 0 || epsilon >= 1 {
		epsilon = DefaultEpsilon
	}
	return &Selector{rng: rng, epsilon: epsilon}
}

// Select picks a variant for a new assignment according to the
// experiment type's policy. It never fails: every policy falls back to
// the first variant rather than refusing an assignment. Returns nil
// only for an empty variant list.
func (s *Selector) Select(kind Type, variants []*Variant) *Variant {
	if len(variants) == 0 {
		return nil
	}

	switch kind {
	case TypeSimpleAB:
		return s.weightedRandom(variants)
	case TypeMultivariate:
		return s.uniformRandom(variants)
	case TypeBandit:
		return s.epsilonGreedy(variants)
	case TypeBayesian:
		// Stand-in for a posterior-sampling policy: pure greedy on the
		// observed conversion rate.
		return bestObserved(variants)
	default:
		return s.weightedRandom(variants)
	}
}

// weightedRandom draws u ~ Uniform(0, sum of weights) and walks the
// variant list accumulating weight. All-zero weights fall back to the
// first variant.
func (s *Selector) weightedRandom(variants []*Variant) *Variant {
	total := 0
	for _, v := range variants {
		total += v.Weight
	}
	if total <= 0 {
		return variants[0]
	}

	s.mu.Lock()
	u := s.rng.Float64() * float64(total)
	s.mu.Unlock()

	cumulative := 0.0
	for _, v := range variants {
		cumulative += float64(v.Weight)
		if cumulative >= u {
			return v
		}
	}
	return variants[len(variants)-1]
}

// uniformRandom picks uniformly over the flattened variant list.
func (s *Selector) uniformRandom(variants []*Variant) *Variant {
	s.mu.Lock()
	idx := s.rng.Intn(len(variants))
	s.mu.Unlock()
	return variants[idx]
}

// epsilonGreedy explores uniformly with probability epsilon and
// otherwise exploits the best observed conversion rate.
func (s *Selector) epsilonGreedy(variants []*Variant) *Variant {
	s.mu.Lock()
	explore := s.rng.Float64() < s.epsilon
	var idx int
	if explore {
		idx = s.rng.Intn(len(variants))
	}
	s.mu.Unlock()

	if explore {
		return variants[idx]
	}
	return bestObserved(variants)
}

// bestObserved returns the variant with the highest observed conversion
// rate, ties broken by list order. Variants with zero participants rank
// at rate 0, so a fresh arm is never exploited before its first
// exploration draw.
func bestObserved(variants []*Variant) *Variant {
	best := variants[0]
	bestRate, _ := best.Result.ConversionRate()
	for _, v := range variants[1:] {
		rate, _ := v.Result.ConversionRate()
		if rate > bestRate {
			best = v
			bestRate = rate
		}
	}
	return best
}
