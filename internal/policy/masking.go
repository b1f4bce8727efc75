package policy

import (
	"net/url"
	"strings"
)

// Query parameters and headers whose values are credentials. Their
// values must never reach a log line in cleartext.
var secretParams = map[string]bool{
	"api-key":                   true,
	"key":                       true,
	"subscription-key":          true,
	"ocp-apim-subscription-key": true,
	"authorization":             true,
	"token":                     true,
	"access_token":              true,
}

const mask = "***"

// MaskURL returns a loggable form of rawURL with credential-bearing
// query parameter values replaced. Unparseable input is masked wholesale
// rather than risking a leak.
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return mask
	}

	q := u.Query()
	changed := false
	for key := range q {
		if secretParams[strings.ToLower(key)] {
			q.Set(key, mask)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	if u.User != nil {
		u.User = url.User(mask)
	}
	return u.String()
}

// MaskSecret shortens a credential to a recognizable but unusable form.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return mask
	}
	return secret[:2] + mask + secret[len(secret)-2:]
}
