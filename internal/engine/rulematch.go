package engine

import (
	"log"
	"net/http"
	"strings"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/pathmatch"
)

// selectRule picks the winning rule for a request, or nil when no rule
// is eligible. baseParams are the endpoint-level path parameters; when
// a rule carries its own path pattern, its capture replaces them for
// that rule. The returned map is the parameter set of the winner.
//
// Eligibility: active, method filter equals the request method
// (case-insensitive), path pattern matches, every header-map entry is
// present with a case-insensitive name and byte-exact value match.
// Selection: highest priority, ties broken by earliest creation.
func selectRule(
	rules []model.Rule,
	method, path string,
	header http.Header,
	baseParams map[string]string,
) (*model.Rule, map[string]string) {
	var (
		best       *model.Rule
		bestParams map[string]string
	)

	for i := range rules {
		r := &rules[i]
		if !r.Active {
			continue
		}
		if r.MatchMethod != nil && *r.MatchMethod != "" && !strings.EqualFold(*r.MatchMethod, method) {
			continue
		}

		params := baseParams
		if r.MatchPath != nil && *r.MatchPath != "" {
			captured, ok := pathmatch.Match(*r.MatchPath, path)
			if !ok {
				continue
			}
			params = captured
		}

		if r.MatchHeadersJSON != nil {
			want, err := r.MatchHeaders()
			if err != nil {
				// Enforced valid at creation; a bad row cannot match.
				log.Printf("[engine] warning: rule %s has malformed match_headers_json: %v", r.ID, err)
				continue
			}
			if !headersMatch(header, want) {
				continue
			}
		}

		if best == nil || r.Priority > best.Priority ||
			(r.Priority == best.Priority && r.CreatedAtNs < best.CreatedAtNs) {
			best = r
			bestParams = params
		}
	}
	return best, bestParams
}

func headersMatch(header http.Header, want map[string]string) bool {
	for name, value := range want {
		if header.Get(name) != value {
			return false
		}
	}
	return true
}
