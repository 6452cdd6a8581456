package scan

import (
	"fmt"

	"hz.tools/rf"
)

// Range is a band swept from Start to End in increments of Step, both ends
// included.
type Range struct {
	Start rf.Hz `json:"start"`
	End   rf.Hz `json:"end"`
	Step  rf.Hz `json:"step"`
}

// BroadcastFM is the band the scanner covers by default.
func BroadcastFM() Range {
	return Range{Start: 88 * rf.MHz, End: 108 * rf.MHz, Step: 200 * rf.KHz}
}

func (r Range) Validate() error {
	if r.Step <= 0 {
		return fmt.Errorf("step must be positive, got %v", r.Step)
	}
	if r.Start <= 0 {
		return fmt.Errorf("start must be positive, got %v", r.Start)
	}
	if r.End < r.Start {
		return fmt.Errorf("end %v is below start %v", r.End, r.Start)
	}
	return nil
}

// Frequency returns the k-th frequency of the sweep.
func (r Range) Frequency(k int) rf.Hz {
	return r.Start + rf.Hz(k)*r.Step
}

// Contains reports whether the k-th frequency is still part of the sweep.
func (r Range) Contains(k int) bool {
	return k >= 0 && r.Frequency(k) <= r.End
}

// Count returns the number of frequencies visited by a full sweep.
func (r Range) Count() int {
	if r.Validate() != nil {
		return 0
	}
	n := int((r.End - r.Start) / r.Step)
	// Guard against the division landing just below an integer.
	for r.Contains(n + 1) {
		n++
	}
	return n + 1
}
