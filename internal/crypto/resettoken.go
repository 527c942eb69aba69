package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Code-co-tech/cyber-doc-server/internal/model"
)

// ResetTokenSource mints and verifies password-reset tokens without storing
// them. A token is <base36 timestamp>-<mac> where the MAC commits to the
// user's id, email, password hash and updated-at timestamp. Changing the
// password rewrites two of those inputs, so a used token stops verifying on
// its own; expiry is a plain timestamp check against the configured TTL.
type ResetTokenSource struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewResetTokenSource(secret string, ttl time.Duration) *ResetTokenSource {
	return &ResetTokenSource{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *ResetTokenSource) Generate(user model.User) string {
	ts := s.now().Unix()
	return strconv.FormatInt(ts, 36) + "-" + s.signature(user, ts)
}

func (s *ResetTokenSource) Verify(user model.User, token string) bool {
	rawTS, mac, ok := strings.Cut(token, "-")
	if !ok {
		return false
	}
	ts, err := strconv.ParseInt(rawTS, 36, 64)
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(s.signature(user, ts)), []byte(mac)) != 1 {
		return false
	}
	return s.now().Sub(time.Unix(ts, 0)) <= s.ttl
}

func (s *ResetTokenSource) signature(user model.User, ts int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%s|%s|%d",
		user.ID,
		user.Email,
		user.PasswordHash,
		user.UpdatedAt.UTC().Format(time.RFC3339Nano),
		ts,
	)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// EncodeUID renders a user id URL-safe for the emailed reset link. It is an
// encoding only; the reset token carries the proof.
func EncodeUID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func DecodeUID(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.New("malformed uid")
	}
	return string(raw), nil
}
