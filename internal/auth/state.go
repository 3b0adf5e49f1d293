package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// CredentialState classifies a persisted token.
type CredentialState int

const (
	Absent CredentialState = iota
	Valid
	ExpiredRefreshable
	ExpiredUnrefreshable
)

func (s CredentialState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Valid:
		return "valid"
	case ExpiredRefreshable:
		return "expired-refreshable"
	case ExpiredUnrefreshable:
		return "expired-unrefreshable"
	default:
		return "unknown"
	}
}

// expirySkew matches the margin oauth2 applies before treating a token as expired.
const expirySkew = 10 * time.Second

// ClassifyToken reports the state of token at now. A token with no expiry
// never expires.
func ClassifyToken(token *oauth2.Token, now time.Time) CredentialState {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return Absent
	}

	if token.AccessToken != "" && (token.Expiry.IsZero() || now.Add(expirySkew).Before(token.Expiry)) {
		return Valid
	}

	if token.RefreshToken != "" {
		return ExpiredRefreshable
	}
	return ExpiredUnrefreshable
}
