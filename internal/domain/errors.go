package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingActor is returned when a grant request carries no actor id.
	ErrMissingActor = errors.New("actorId is required")
	// ErrNegativeXP is returned when a grant request asks for a negative amount.
	ErrNegativeXP = errors.New("xpAmount must be a non-negative integer")
	// ErrSuspended is returned for every request from a suspended actor.
	ErrSuspended = errors.New("account suspended")
	// ErrVersionConflict signals a leaderboard write based on a stale read.
	ErrVersionConflict = errors.New("leaderboard document version conflict")
	// ErrInvalidChallenge indicates a challenge token failed verification.
	ErrInvalidChallenge = errors.New("invalid challenge token")
)

// RateLimitedError is returned when a request is rejected by the rate limiter.
type RateLimitedError struct {
	Policy     string
	RetryAfter time.Duration
	Blocked    bool
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %s", e.Policy, e.RetryAfter)
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingActor) || errors.Is(err, ErrNegativeXP)
}
