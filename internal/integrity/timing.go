package integrity

import "time"

// DefaultMinElapsed is the fastest plausible human answer.
const DefaultMinElapsed = time.Second

// TimingResult describes how long the learner looked at the question.
type TimingResult struct {
	Checked bool
	Valid   bool
	Elapsed time.Duration
}

// ElapsedMs returns the elapsed time in milliseconds, nil when unchecked.
func (r TimingResult) ElapsedMs() *int64 {
	if !r.Checked {
		return nil
	}
	ms := r.Elapsed.Milliseconds()
	return &ms
}

// TimingValidator rejects answers that arrive faster than a human could read.
// Elapsed time is measured on the server clock.
type TimingValidator struct {
	minElapsed time.Duration
	now        func() time.Time
}

func NewTimingValidator(minElapsed time.Duration) *TimingValidator {
	return NewTimingValidatorWithClock(minElapsed, time.Now)
}

// NewTimingValidatorWithClock allows deterministic timestamps in tests.
func NewTimingValidatorWithClock(minElapsed time.Duration, now func() time.Time) *TimingValidator {
	if minElapsed <= 0 {
		minElapsed = DefaultMinElapsed
	}
	return &TimingValidator{minElapsed: minElapsed, now: now}
}

// Validate checks the time between question display and now. A missing
// timestamp is not validated and carries no penalty.
func (v *TimingValidator) Validate(shownAt *time.Time) TimingResult {
	if shownAt == nil || shownAt.IsZero() {
		return TimingResult{Valid: true}
	}
	elapsed := v.now().Sub(*shownAt)
	return TimingResult{
		Checked: true,
		Valid:   elapsed >= v.minElapsed,
		Elapsed: elapsed,
	}
}

// Invalid is the result recorded for a shown-at proof that failed verification.
func (v *TimingValidator) Invalid() TimingResult {
	return TimingResult{Checked: false, Valid: false}
}
