package urlx

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var indexSuffix = regexp.MustCompile(`/index(\.html?)?$`)

func parseAbsolute(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return nil, false
	}
	return u, true
}

type pair struct{ key, value string }

// queryPairs keeps the order the parameters appear in, which url.Values
// does not.
func queryPairs(rawQuery string) []pair {
	out := make([]pair, 0, 4)
	for _, seg := range strings.Split(rawQuery, "&") {
		if seg == "" {
			continue
		}
		k, v, _ := strings.Cut(seg, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		out = append(out, pair{key: key, value: value})
	}
	return out
}

// SanitizeURL drops the fragment and every query parameter whose key is not
// in allowlist. Input that does not parse as an absolute URL is returned
// unchanged.
func SanitizeURL(raw string, allowlist []string) string {
	u, ok := parseAbsolute(raw)
	if !ok {
		return raw
	}
	kept := make([]string, 0, 4)
	for _, p := range queryPairs(u.RawQuery) {
		if slices.Contains(allowlist, p.key) {
			kept = append(kept, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
		}
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// NormalizePath lowercases the path, strips one trailing slash and a
// trailing /index or /index.htm(l). Unparseable input maps to "/".
func NormalizePath(raw string) string {
	u, ok := parseAbsolute(raw)
	if !ok {
		return "/"
	}
	p := strings.ToLower(u.Path)
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	p = indexSuffix.ReplaceAllString(p, "")
	if p == "" {
		return "/"
	}
	return p
}

// ExtractUTM returns every utm_* parameter. The last occurrence of a
// repeated key wins.
func ExtractUTM(raw string) map[string]string {
	utm := map[string]string{}
	u, ok := parseAbsolute(raw)
	if !ok {
		return utm
	}
	for _, p := range queryPairs(u.RawQuery) {
		if strings.HasPrefix(p.key, "utm_") {
			utm[p.key] = p.value
		}
	}
	return utm
}
