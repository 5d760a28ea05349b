// Package template implements the {{...}} token rewriter used for mock
// response bodies.
//
// The engine is a flat token substituter: every occurrence of a token
// is resolved independently, and unknown names pass through verbatim.
// There is no AST, no dependency graph, and no error path on the hot
// path — a token that cannot be resolved renders as itself or as the
// empty string, never as a failure.
package template

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var tokenRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Context carries the request-derived values a template can reference.
type Context struct {
	Method      string
	Path        string
	Header      http.Header
	Query       url.Values
	Body        *string // nil when the request had no body
	ContentType string
	PathParams  map[string]string

	bodyJSON       any
	bodyJSONParsed bool
	bodyForm       url.Values
	bodyFormParsed bool
}

// Render substitutes every {{NAME}} token in s against ctx. Unknown
// names are emitted verbatim. A template with no tokens is returned
// byte-identical.
func Render(s string, ctx *Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		name := strings.TrimSpace(tok[2 : len(tok)-2])
		if v, ok := resolve(name, ctx); ok {
			return v
		}
		return tok
	})
}

// resolve looks up a single token name. Precedence: generators,
// request accessors, path parameters, unknown.
func resolve(name string, ctx *Context) (string, bool) {
	if strings.HasPrefix(name, "$") {
		return generate(name)
	}
	if strings.HasPrefix(name, "request.") {
		return requestValue(name[len("request."):], ctx)
	}
	if ctx != nil {
		if v, ok := ctx.PathParams[name]; ok {
			return v, true
		}
	}
	return "", false
}

// --- generators ---

var (
	firstNames = []string{"alice", "bob", "carol", "david", "emma", "frank", "grace", "henry", "iris", "jack"}
	lastNames  = []string{"anderson", "brown", "clark", "davis", "evans", "foster", "garcia", "harris", "iverson", "jones"}
	domains    = []string{"example.com", "example.org", "example.net", "mail.test", "inbox.test"}
)

const randomStringAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func generate(name string) (string, bool) {
	switch name {
	case "$uuid":
		return uuid.NewString(), true
	case "$randomInt":
		return fmt.Sprintf("%d", rand.IntN(1001)), true
	case "$randomFloat":
		return fmt.Sprintf("%.2f", rand.Float64()), true
	case "$randomBool":
		if rand.IntN(2) == 0 {
			return "false", true
		}
		return "true", true
	case "$timestamp":
		return time.Now().UTC().Format(time.RFC3339), true
	case "$timestampUnix":
		return fmt.Sprintf("%d", time.Now().Unix()), true
	case "$date":
		return time.Now().UTC().Format("2006-01-02"), true
	case "$randomEmail":
		first := firstNames[rand.IntN(len(firstNames))]
		last := lastNames[rand.IntN(len(lastNames))]
		domain := domains[rand.IntN(len(domains))]
		return first + "." + last + "@" + domain, true
	case "$randomName":
		first := firstNames[rand.IntN(len(firstNames))]
		last := lastNames[rand.IntN(len(lastNames))]
		return capitalize(first) + " " + capitalize(last), true
	case "$randomString":
		b := make([]byte, 16)
		for i := range b {
			b[i] = randomStringAlphabet[rand.IntN(len(randomStringAlphabet))]
		}
		return string(b), true
	default:
		// Unknown generator names pass through like any unknown token.
		return "", false
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// --- request accessors ---

func requestValue(accessor string, ctx *Context) (string, bool) {
	if ctx == nil {
		return "", true
	}
	switch {
	case accessor == "method":
		return ctx.Method, true
	case accessor == "path":
		return ctx.Path, true
	case strings.HasPrefix(accessor, "header."):
		// Case-insensitive; missing header renders empty.
		return ctx.Header.Get(accessor[len("header."):]), true
	case strings.HasPrefix(accessor, "query."):
		return ctx.Query.Get(accessor[len("query."):]), true
	case accessor == "body":
		if ctx.Body == nil {
			return "", true
		}
		return *ctx.Body, true
	case strings.HasPrefix(accessor, "body."):
		return ctx.bodyField(strings.Split(accessor[len("body."):], ".")), true
	default:
		return "", false
	}
}

// bodyField navigates a dot path into the request body. Every failure
// mode (nil body, unparseable body, non-object traversal, missing
// field) yields the empty string.
func (ctx *Context) bodyField(path []string) string {
	if ctx.Body == nil || len(path) == 0 {
		return ""
	}

	if isFormContentType(ctx.ContentType) {
		if len(path) != 1 {
			return ""
		}
		return ctx.formValue(path[0])
	}

	cur, ok := ctx.parsedBody()
	if !ok {
		return ""
	}
	for _, field := range path {
		obj, isObj := cur.(map[string]any)
		if !isObj {
			return ""
		}
		cur, ok = obj[field]
		if !ok {
			return ""
		}
	}
	return renderJSONValue(cur)
}

func (ctx *Context) parsedBody() (any, bool) {
	if !ctx.bodyJSONParsed {
		ctx.bodyJSONParsed = true
		dec := json.NewDecoder(strings.NewReader(*ctx.Body))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			ctx.bodyJSON = v
		}
	}
	if ctx.bodyJSON == nil {
		return nil, false
	}
	return ctx.bodyJSON, true
}

func (ctx *Context) formValue(key string) string {
	if !ctx.bodyFormParsed {
		ctx.bodyFormParsed = true
		if vals, err := url.ParseQuery(*ctx.Body); err == nil {
			ctx.bodyForm = vals
		}
	}
	return ctx.bodyForm.Get(key)
}

// renderJSONValue renders a terminal value: objects and arrays as their
// JSON serialization, scalars as their plain string form.
func renderJSONValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return "null"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func isFormContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	return strings.EqualFold(mt, "application/x-www-form-urlencoded")
}
