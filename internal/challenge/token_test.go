package challenge

import (
	"errors"
	"testing"
	"time"

	"xp-integrity-service/internal/domain"
)

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	issuer := NewIssuerWithClock([]byte("secret"), time.Hour, func() time.Time { return now })

	token, shownAt := issuer.Issue("u1", "q1")
	now = now.Add(3 * time.Second)

	got, err := issuer.Verify(token, "u1", "q1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Equal(shownAt) {
		t.Fatalf("expected %s, got %s", shownAt, got)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	issuer := NewIssuerWithClock([]byte("secret"), time.Hour, func() time.Time { return now })
	token, _ := issuer.Issue("u1", "q1")

	cases := map[string]func() error{
		"other actor": func() error {
			_, err := issuer.Verify(token, "u2", "q1")
			return err
		},
		"other question": func() error {
			_, err := issuer.Verify(token, "u1", "q2")
			return err
		},
		"other secret": func() error {
			_, err := NewIssuerWithClock([]byte("nope"), time.Hour, func() time.Time { return now }).Verify(token, "u1", "q1")
			return err
		},
		"malformed": func() error {
			_, err := issuer.Verify("garbage", "u1", "q1")
			return err
		},
		"expired": func() error {
			later := NewIssuerWithClock([]byte("secret"), time.Hour, func() time.Time { return now.Add(2 * time.Hour) })
			_, err := later.Verify(token, "u1", "q1")
			return err
		},
	}
	for name, verify := range cases {
		if err := verify(); !errors.Is(err, domain.ErrInvalidChallenge) {
			t.Fatalf("%s: expected invalid challenge, got %v", name, err)
		}
	}
}
