package scrape

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters that never change page content and
// would otherwise split one article into multiple rows.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"mc_cid":   true,
	"mc_eid":   true,
	"ref":      true,
	"referrer": true,
}

// NormalizeURL canonicalizes a submitted URL so that concurrent submissions
// of the same article converge to one row: lowercased scheme and host,
// stripped fragment, stripped tracking parameters, sorted query, and no
// trailing slash on the path.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", newError(CodeInvalidURL, 0, fmt.Errorf("URL is empty"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", newError(CodeInvalidURL, 0, fmt.Errorf("failed to parse URL: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", newError(CodeInvalidURL, 0, fmt.Errorf("unsupported URL scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", newError(CodeInvalidURL, 0, fmt.Errorf("URL has no host"))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	query := u.Query()
	for param := range query {
		if trackingParams[param] || strings.HasPrefix(param, "utm_") {
			query.Del(param)
		}
	}
	u.RawQuery = encodeSorted(query)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func encodeSorted(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range query[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
