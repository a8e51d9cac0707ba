package http

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"xp-integrity-service/internal/app"
	"xp-integrity-service/internal/domain"
)

// grantPayload is the wire shape of an XP grant, shared by HTTP and websocket.
type grantPayload struct {
	ActorID         string `json:"actorId"`
	XPAmount        *int   `json:"xpAmount"`
	IsCorrect       bool   `json:"isCorrect"`
	Source          string `json:"source"`
	Subject         string `json:"subject"`
	QuestionID      string `json:"questionId"`
	QuestionShownAt *int64 `json:"questionShownAt"` // epoch ms
	ChallengeToken  string `json:"challengeToken"`
}

func (p grantPayload) request(clientIP, userAgent string) (domain.GrantRequest, error) {
	if p.XPAmount == nil {
		return domain.GrantRequest{}, domain.ErrNegativeXP
	}
	req := domain.GrantRequest{
		ActorID:        strings.TrimSpace(p.ActorID),
		XPAmount:       *p.XPAmount,
		IsCorrect:      p.IsCorrect,
		Source:         p.Source,
		Subject:        p.Subject,
		QuestionID:     p.QuestionID,
		ChallengeToken: p.ChallengeToken,
		ClientIP:       clientIP,
		UserAgent:      userAgent,
	}
	if p.QuestionShownAt != nil {
		shownAt := time.UnixMilli(*p.QuestionShownAt).UTC()
		req.QuestionShownAt = &shownAt
	}
	return req, nil
}

type grantedResponse struct {
	Success        bool `json:"success"`
	XPGranted      bool `json:"xpGranted"`
	TotalPoints    int  `json:"totalPoints"`
	TotalQuestions int  `json:"totalQuestions"`
	Streak         int  `json:"streak"`
	MaxStreak      int  `json:"maxStreak"`
}

type withheldResponse struct {
	Success   bool   `json:"success"`
	XPGranted bool   `json:"xpGranted"`
	Warning   string `json:"warning"`
}

func newGrantResponse(res app.GrantResult) any {
	if !res.Granted {
		return withheldResponse{Success: true, Warning: res.Warning}
	}
	return grantedResponse{
		Success:        true,
		XPGranted:      true,
		TotalPoints:    res.Aggregate.TotalPoints,
		TotalQuestions: res.Aggregate.TotalQuestions,
		Streak:         res.Aggregate.CurrentStreak,
		MaxStreak:      res.Aggregate.MaxStreak,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type rateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
	Blocked    bool   `json:"blocked"`
}

type blockedResponse struct {
	Error   string `json:"error"`
	Blocked bool   `json:"blocked"`
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// rejection maps a Grant error to a status and body. Unknown errors are 500.
func rejection(err error) (int, any) {
	var rl *domain.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, rateLimitedResponse{
			Error:      "Too many requests",
			RetryAfter: retryAfterSeconds(rl.RetryAfter),
			Blocked:    rl.Blocked,
		}
	case errors.Is(err, domain.ErrSuspended):
		return http.StatusForbidden, blockedResponse{Error: "Account temporarily suspended", Blocked: true}
	case domain.IsValidation(err):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
}
