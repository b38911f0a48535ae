package animation

import "fmt"

// TriggerPolicy selects what starts a sequence.
type TriggerPolicy string

const (
	// TriggerBeat starts on a beat accepted by the rate estimator.
	TriggerBeat TriggerPolicy = "beat"

	// TriggerRaw starts when the IR level reaches a fixed threshold.
	TriggerRaw TriggerPolicy = "raw"

	// TriggerRate starts while a valid smoothed rate is at or above a threshold.
	TriggerRate TriggerPolicy = "rate"
)

// ParseTriggerPolicy parses a policy name.
func ParseTriggerPolicy(s string) (TriggerPolicy, error) {
	switch p := TriggerPolicy(s); p {
	case TriggerBeat, TriggerRaw, TriggerRate:
		return p, nil
	}
	return "", fmt.Errorf("animation: unknown trigger policy %q", s)
}

// TriggerInput is what one loop iteration observed.
type TriggerInput struct {
	Beat      bool   // an interval was accepted this tick
	HasSample bool   // IR is valid this tick
	IR        uint32
	RateValid bool
	RateBPM   float64
	Manual    bool // requested from outside
}

// Trigger evaluates a policy.
type Trigger struct {
	Policy        TriggerPolicy
	RawThreshold  uint32
	RateThreshold float64
}

// Fire reports whether in starts a sequence.
func (t Trigger) Fire(in TriggerInput) bool {
	if in.Manual {
		return true
	}
	switch t.Policy {
	case TriggerRaw:
		return in.HasSample && in.IR >= t.RawThreshold
	case TriggerRate:
		return in.RateValid && in.RateBPM >= t.RateThreshold
	default:
		return in.Beat
	}
}
