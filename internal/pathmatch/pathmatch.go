// Package pathmatch implements path pattern matching with :name
// parameter segments, path normalization, and specificity scoring.
//
// Matching is deliberately narrow: no wildcards, no regex, no optional
// segments. A pattern segment starting with ':' captures the concrete
// segment under the parameter name; every other segment must be
// byte-identical. Matching is case-sensitive and pure.
package pathmatch

import "strings"

// Match matches a concrete path against a pattern. On success it
// returns the captured parameter map (never nil) and true. Segment
// counts must be equal; duplicate parameter names overwrite.
func Match(pattern, path string) (map[string]string, bool) {
	patSegs := segments(pattern)
	pathSegs := segments(path)
	if len(patSegs) != len(pathSegs) {
		return nil, false
	}

	params := make(map[string]string)
	for i, ps := range patSegs {
		if strings.HasPrefix(ps, ":") {
			params[ps[1:]] = pathSegs[i]
			continue
		}
		if ps != pathSegs[i] {
			return nil, false
		}
	}
	return params, true
}

// Normalize guarantees a leading '/', collapses runs of '/' into one,
// and strips the trailing '/' except when the path is exactly "/".
// Normalize is idempotent.
func Normalize(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// Specificity scores a pattern for endpoint disambiguation: 2 points
// per literal segment, 1 per parameter segment. Higher wins.
func Specificity(pattern string) int {
	score := 0
	for _, s := range segments(pattern) {
		if strings.HasPrefix(s, ":") {
			score++
		} else {
			score += 2
		}
	}
	return score
}

// segments splits on '/' and drops empty parts, so "/a//b/" and "a/b"
// yield the same segment list.
func segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
