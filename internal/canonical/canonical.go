package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// DefaultTrackingParams lists query parameter names removed before identity
// derivation. A trailing "*" makes the entry a prefix pattern.
var DefaultTrackingParams = []string{
	"utm_*",
	"fbclid",
	"gclid",
	"gclsrc",
	"dclid",
	"msclkid",
	"yclid",
	"igshid",
	"mc_cid",
	"mc_eid",
	"_ga",
	"_gl",
	"ref",
	"ref_src",
	"cmpid",
	"ocid",
	"ncid",
	"mbid",
	"spm",
	"__twitter_impression",
	"sr_share",
	"smid",
}

// Result is the normalized form of one URL.
type Result struct {
	// URL is the cleaned last-seen variant: tracking and fragment removed, host lowercased.
	URL string
	// Canonical is the identity key.
	Canonical string
	Domain    string
	// Fallback is set when the input could not be parsed and was returned unchanged.
	Fallback bool
}

// Canonicalizer strips tracking noise from URLs.
type Canonicalizer struct {
	exact    map[string]struct{}
	prefixes []string
}

// New builds a canonicalizer; nil or empty params selects DefaultTrackingParams.
func New(params []string) *Canonicalizer {
	if len(params) == 0 {
		params = DefaultTrackingParams
	}
	c := &Canonicalizer{exact: map[string]struct{}{}}
	for _, p := range params {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "*") {
			c.prefixes = append(c.prefixes, strings.TrimSuffix(p, "*"))
			continue
		}
		c.exact[p] = struct{}{}
	}
	return c
}

// Canonicalize is deterministic: the same input always yields the same Canonical.
func (c *Canonicalizer) Canonicalize(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{URL: raw, Canonical: raw, Domain: raw, Fallback: true}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = stripDefaultPort(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		if c.isTracking(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	cleaned := u.String()

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	u.Host = strings.TrimPrefix(u.Host, "www.")

	return Result{
		URL:       cleaned,
		Canonical: u.String(),
		Domain:    Domain(u.Hostname()),
	}
}

func (c *Canonicalizer) isTracking(key string) bool {
	key = strings.ToLower(key)
	if _, ok := c.exact[key]; ok {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Domain lowercases a hostname and strips a leading "www." label.
func Domain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// DomainOf returns Domain for a raw URL, or "" when it cannot be parsed.
func DomainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return Domain(u.Hostname())
}

// Fingerprint hashes the normalized title together with the identity key.
func Fingerprint(title, canonicalURL string) string {
	normTitle := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	h := sha256.Sum256([]byte(canonicalURL + "|" + normTitle))
	return hex.EncodeToString(h[:])
}

func stripDefaultPort(scheme, host string) string {
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
