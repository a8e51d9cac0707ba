// Package challenge mints and verifies server-signed proofs of when a
// question was shown to a learner.
package challenge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"xp-integrity-service/internal/domain"
)

// DefaultTTL bounds how long after display a token is accepted.
const DefaultTTL = time.Hour

// Issuer signs tokens binding an actor, a question and the display time.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return NewIssuerWithClock(secret, ttl, time.Now)
}

// NewIssuerWithClock allows deterministic timestamps in tests.
func NewIssuerWithClock(secret []byte, ttl time.Duration, now func() time.Time) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: now}
}

// Issue returns a token stamped with the current server time.
func (i *Issuer) Issue(actorID, questionID string) (string, time.Time) {
	shownAt := i.now()
	payload := strings.Join([]string{actorID, questionID, strconv.FormatInt(shownAt.UnixMilli(), 10)}, "\n")
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(payload)) + "." + enc.EncodeToString(i.sign([]byte(payload))), time.UnixMilli(shownAt.UnixMilli())
}

// Verify checks the signature and binding and returns the signed display time.
func (i *Issuer) Verify(token, actorID, questionID string) (time.Time, error) {
	enc := base64.RawURLEncoding
	rawPayload, rawSig, ok := strings.Cut(token, ".")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: malformed", domain.ErrInvalidChallenge)
	}
	payload, err := enc.DecodeString(rawPayload)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: payload encoding", domain.ErrInvalidChallenge)
	}
	sig, err := enc.DecodeString(rawSig)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: signature encoding", domain.ErrInvalidChallenge)
	}
	if !hmac.Equal(sig, i.sign(payload)) {
		return time.Time{}, fmt.Errorf("%w: bad signature", domain.ErrInvalidChallenge)
	}

	parts := strings.Split(string(payload), "\n")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: malformed payload", domain.ErrInvalidChallenge)
	}
	if parts[0] != actorID || parts[1] != questionID {
		return time.Time{}, fmt.Errorf("%w: issued for another actor or question", domain.ErrInvalidChallenge)
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp", domain.ErrInvalidChallenge)
	}
	shownAt := time.UnixMilli(ms)
	if i.now().Sub(shownAt) > i.ttl {
		return time.Time{}, fmt.Errorf("%w: expired", domain.ErrInvalidChallenge)
	}
	return shownAt, nil
}

func (i *Issuer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
