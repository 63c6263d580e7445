// Package blockdetect recognizes anti-bot interstitials in fetched HTML.
package blockdetect

import "strings"

// Signatures that procurement portals serve when rate limiting or challenging
// a client. Matching is case-insensitive substring.
var defaultSignatures = []string{
	"验证码",
	"captcha",
	"访问频繁",
	"访问过于频繁",
	"请稍后再试",
	"拒绝访问",
	"ip被封",
	"access denied",
	"403 forbidden",
	"cloudflare",
	"please verify you are a human",
	"robot check",
}

// Detector scans page bodies for block signatures.
type Detector struct {
	signatures []string
}

// New builds a Detector. Extra signatures are appended to the built-in set.
func New(extra ...string) *Detector {
	sigs := make([]string, 0, len(defaultSignatures)+len(extra))
	sigs = append(sigs, defaultSignatures...)
	for _, s := range extra {
		if s = strings.TrimSpace(s); s != "" {
			sigs = append(sigs, strings.ToLower(s))
		}
	}
	return &Detector{signatures: sigs}
}

// Match returns the first signature found in the body, if any. Very large
// bodies are unlikely to be challenge pages, so only the head is scanned.
func (d *Detector) Match(body string) (string, bool) {
	const scanLimit = 64 << 10
	if len(body) > scanLimit {
		body = body[:scanLimit]
	}
	lowered := strings.ToLower(body)
	for _, sig := range d.signatures {
		if strings.Contains(lowered, sig) {
			return sig, true
		}
	}
	return "", false
}
