// Package run implements the Run Controller: startRun validation, fan-out,
// and the recovery scheduler that reconciles queue state against Run
// progress after a crash (spec.md §4.6).
package run

import "time"

const (
	lcgMultiplier uint64 = 6364136223846793005
	lcgIncrement  uint64 = 1442695040888963407
)

// lcg is a minimal linear-congruential generator: deterministic given a
// seed, which is the only property sampleScenarios needs (spec.md §8
// testable property 2 requires repeatable shuffles under a fixed seed,
// not cryptographic quality).
type lcg struct {
	state uint64
}

func newLCG(seed int64) *lcg {
	return &lcg{state: uint64(seed)}
}

func (g *lcg) next() uint64 {
	g.state = g.state*lcgMultiplier + lcgIncrement
	return g.state
}

func (g *lcg) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(g.next() % uint64(n))
}

// SampleScenarios selects a deterministic subset of ids via a seeded
// Fisher-Yates shuffle: target count = max(1, floor(len(ids)*pct/100)).
// A nil seed draws from the current time, so repeat calls within the same
// process run differ — callers that need reproducibility must pass a seed
// (spec.md §4.6).
func SampleScenarios(ids []string, samplePercentage int, seed *int64) []string {
	if len(ids) == 0 {
		return nil
	}

	s := int64(0)
	if seed != nil {
		s = *seed
	} else {
		s = time.Now().UnixNano()
	}

	shuffled := make([]string, len(ids))
	copy(shuffled, ids)

	g := newLCG(s)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := g.intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled[:targetCount(len(ids), samplePercentage)]
}

func targetCount(n, pct int) int {
	target := (n * pct) / 100
	if target < 1 {
		target = 1
	}
	if target > n {
		target = n
	}
	return target
}
