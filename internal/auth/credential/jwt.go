package credential

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DecodeExpiry reads the exp claim of a JWT without verifying its signature. Tokens are only
// introspected here; the backend remains the authority on validity. Anything that is not a
// parseable JWT with an exp claim yields (zero, false).
func DecodeExpiry(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	parsed, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}, false
	}
	exp := parsed.Expiration()
	if exp.IsZero() {
		return time.Time{}, false
	}
	return exp, true
}
