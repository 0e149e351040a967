package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
)

// HeightEstimator predicts when the chain reaches a block height
type HeightEstimator interface {
	Estimate(currentHeight, targetHeight int64) (time.Time, error)
}

// FixedIntervalEstimator assumes a constant block time
type FixedIntervalEstimator struct {
	BlockTime time.Duration
	Clock     clock.Clock
}

// NewFixedIntervalEstimator creates an estimator using blockTime per block
func NewFixedIntervalEstimator(blockTime time.Duration) *FixedIntervalEstimator {
	return &FixedIntervalEstimator{BlockTime: blockTime, Clock: clock.WallClock}
}

// Estimate returns now + (target-current) * BlockTime
func (e *FixedIntervalEstimator) Estimate(currentHeight, targetHeight int64) (time.Time, error) {
	if err := checkHeights(currentHeight, targetHeight); err != nil {
		return time.Time{}, err
	}
	if e.BlockTime <= 0 {
		return time.Time{}, fmt.Errorf("block time must be positive")
	}
	return e.Clock.Now().Add(time.Duration(targetHeight-currentHeight) * e.BlockTime), nil
}

type heightSample struct {
	height int64
	at     time.Time
}

// SampledEstimator derives the block time from observed heights, falling
// back to a fixed block time until two distinct heights were seen.
type SampledEstimator struct {
	fallback *FixedIntervalEstimator
	window   int

	mu      sync.Mutex
	samples []heightSample
}

// NewSampledEstimator keeps the last window observations
func NewSampledEstimator(fallback time.Duration, window int) *SampledEstimator {
	if window < 2 {
		window = 2
	}
	return &SampledEstimator{
		fallback: NewFixedIntervalEstimator(fallback),
		window:   window,
	}
}

// WithClock sets the time source
func (e *SampledEstimator) WithClock(clk clock.Clock) *SampledEstimator {
	e.fallback.Clock = clk
	return e
}

// Observe records the chain height seen at the given time. Heights that do
// not advance are ignored.
func (e *SampledEstimator) Observe(height int64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n := len(e.samples); n > 0 && height <= e.samples[n-1].height {
		return
	}
	e.samples = append(e.samples, heightSample{height: height, at: at})
	if len(e.samples) > e.window {
		e.samples = e.samples[len(e.samples)-e.window:]
	}
}

// BlockTime returns the average block time over the sample window
func (e *SampledEstimator) BlockTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.samples) < 2 {
		return e.fallback.BlockTime
	}
	first, last := e.samples[0], e.samples[len(e.samples)-1]
	elapsed := last.at.Sub(first.at)
	if elapsed <= 0 {
		return e.fallback.BlockTime
	}
	return elapsed / time.Duration(last.height-first.height)
}

// Estimate projects the sampled block time forward from now
func (e *SampledEstimator) Estimate(currentHeight, targetHeight int64) (time.Time, error) {
	if err := checkHeights(currentHeight, targetHeight); err != nil {
		return time.Time{}, err
	}
	est := FixedIntervalEstimator{BlockTime: e.BlockTime(), Clock: e.fallback.Clock}
	return est.Estimate(currentHeight, targetHeight)
}

func checkHeights(current, target int64) error {
	if current <= 0 {
		return fmt.Errorf("current height unknown")
	}
	if target <= current {
		return fmt.Errorf("height %d already reached (current %d)", target, current)
	}
	return nil
}
