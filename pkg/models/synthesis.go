package models

// SynthesisResult is the tagged outcome of a synthesis delegate call.
// Exactly one of Success or Failure is set. The delegate is untrusted:
// a CompactionPerformed claim is only honored after the caller verifies
// the history artifact actually grew.
type SynthesisResult struct {
	Success *SynthesisSuccess `json:"success,omitempty"`
	Failure *SynthesisFailure `json:"failure,omitempty"`
}

// SynthesisSuccess is a completed semantic merge.
type SynthesisSuccess struct {
	Summary             string   `json:"summary"`
	Artifacts           []string `json:"artifacts,omitempty"`
	CompactionPerformed bool     `json:"compaction_performed"`
}

// SynthesisFailure is a declared delegate failure with its reason.
type SynthesisFailure struct {
	Reason string `json:"reason"`
}

// Ok reports whether the result carries a success.
func (r SynthesisResult) Ok() bool {
	return r.Success != nil
}
