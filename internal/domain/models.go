package domain

import "time"

// DefaultSource tags grants that did not name their origin.
const DefaultSource = "question"

// DateLayout is the calendar-day format used for same-day leaderboard counters.
const DateLayout = "2006-01-02"

// GrantRequest is a single XP grant attempt as received from a client.
type GrantRequest struct {
	ActorID         string
	XPAmount        int
	IsCorrect       bool
	Source          string
	Subject         string
	QuestionID      string
	QuestionShownAt *time.Time
	ChallengeToken  string
	ClientIP        string
	UserAgent       string
}

// Validate checks the required fields and fills defaults.
func (r *GrantRequest) Validate() error {
	if r.ActorID == "" {
		return ErrMissingActor
	}
	if r.XPAmount < 0 {
		return ErrNegativeXP
	}
	if r.Source == "" {
		r.Source = DefaultSource
	}
	return nil
}

// AnswerEvent is an immutable ledger entry written for every grant attempt
// that passed the rate limiter.
type AnswerEvent struct {
	ID               string    `json:"id"`
	ActorID          string    `json:"actorId"`
	QuestionID       string    `json:"questionId,omitempty"`
	IsCorrect        bool      `json:"isCorrect"`
	RequestedXP      int       `json:"requestedXp"`
	GrantedXP        int       `json:"grantedXp"`
	Granted          bool      `json:"granted"`
	WithheldReason   string    `json:"withheldReason,omitempty"`
	Source           string    `json:"source"`
	Subject          string    `json:"subject,omitempty"`
	ElapsedMs        *int64    `json:"elapsedMs,omitempty"`
	ClientIP         string    `json:"clientIp,omitempty"`
	UserAgent        string    `json:"userAgent,omitempty"`
	AnomalyScore     int       `json:"anomalyScore"`
	TotalPointsAfter int       `json:"totalPointsAfter"`
	StreakAfter      int       `json:"streakAfter"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PointsAggregate holds the authoritative cumulative counters of a learner.
type PointsAggregate struct {
	ActorID        string    `json:"actorId"`
	TotalPoints    int       `json:"totalPoints"`
	TotalQuestions int       `json:"totalQuestions"`
	TotalCorrect   int       `json:"totalCorrect"`
	TotalWrong     int       `json:"totalWrong"`
	CurrentStreak  int       `json:"currentStreak"`
	MaxStreak      int       `json:"maxStreak"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Apply folds one granted answer into the aggregate.
func (a *PointsAggregate) Apply(xp int, correct bool, at time.Time) {
	a.TotalPoints += xp
	a.TotalQuestions++
	if correct {
		a.TotalCorrect++
		a.CurrentStreak++
		if a.CurrentStreak > a.MaxStreak {
			a.MaxStreak = a.CurrentStreak
		}
	} else {
		a.TotalWrong++
		a.CurrentStreak = 0
	}
	a.UpdatedAt = at
}

// Suspension is the persisted marker of a suspended account.
type Suspension struct {
	Reason      string    `json:"reason"`
	SuspendedAt time.Time `json:"suspendedAt"`
}

// Account is the slice of the identity store the integrity layer needs.
type Account struct {
	ActorID     string
	DisplayName string
	Country     string
	Region      string
	Suspension  *Suspension
}

// Suspended reports whether the account carries a suspension marker.
func (a Account) Suspended() bool {
	return a.Suspension != nil
}

// SuspendedAt reports whether the last suspension is still within cooldown at now.
func (a Account) SuspendedAt(now time.Time, cooldown time.Duration) bool {
	return a.Suspension != nil && now.Before(a.Suspension.SuspendedAt.Add(cooldown))
}

// ActivityCount summarizes ledger attempts in a time range.
type ActivityCount struct {
	Attempts int
	Correct  int
}

// LeaderboardDocument is the denormalized, read-optimized view of a learner.
type LeaderboardDocument struct {
	ActorID        string         `json:"actorId"`
	DisplayName    string         `json:"displayName,omitempty"`
	Country        string         `json:"country,omitempty"`
	Region         string         `json:"region,omitempty"`
	TotalPoints    int            `json:"totalPoints"`
	TotalQuestions int            `json:"totalQuestions"`
	TotalCorrect   int            `json:"totalCorrect"`
	TotalWrong     int            `json:"totalWrong"`
	CurrentStreak  int            `json:"currentStreak"`
	MaxStreak      int            `json:"maxStreak"`
	TodayQuestions int            `json:"todayQuestions"`
	TodayCorrect   int            `json:"todayCorrect"`
	TodayDate      string         `json:"todayDate"`
	SubjectPoints  map[string]int `json:"subjectPoints,omitempty"`
	Version        int64          `json:"version"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	ActorID     string `json:"actorId"`
	TotalPoints int    `json:"totalPoints"`
}
