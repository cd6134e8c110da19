package misc

import (
	"fmt"
	"net/url"
	"strings"
)

// OAuthCallback captures the parameters of a pasted redirect URL.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseOAuthCallback extracts OAuth parameters from a redirect URL pasted by the user. Bare
// query strings ("code=...&state=...") are accepted, and parameters in the fragment fill in
// whatever the query lacks. Empty input yields (nil, nil).
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"):
			candidate = "http://localhost/" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return nil, fmt.Errorf("invalid callback URL")
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}
	params := parsedURL.Query()
	if parsedURL.Fragment != "" {
		if fragment, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			for key, values := range fragment {
				if params.Get(key) == "" && len(values) > 0 {
					params.Set(key, values[0])
				}
			}
		}
	}

	cb := &OAuthCallback{
		Code:             strings.TrimSpace(params.Get("code")),
		State:            strings.TrimSpace(params.Get("state")),
		Error:            strings.TrimSpace(params.Get("error")),
		ErrorDescription: strings.TrimSpace(params.Get("error_description")),
	}
	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error, cb.ErrorDescription = cb.ErrorDescription, ""
	}
	if cb.Code == "" && cb.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return cb, nil
}
