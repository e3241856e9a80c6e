// Package middleware runs an ordered chain of request interceptors ahead of
// static and page dispatch. Chains are loaded from a JSON rule file that can
// be edited while the server runs.
package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vormadev/kiln/web"
)

// Func inspects a request. A nil response continues to the next function.
type Func func(*web.Request) (*web.Response, error)

// Chain runs in declaration order.
type Chain []Func

// Run returns the first non-nil response or the first error.
func (c Chain) Run(req *web.Request) (*web.Response, error) {
	for i, fn := range c {
		res, err := fn(req)
		if err != nil {
			return nil, fmt.Errorf("middleware %d: %w", i, err)
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// Registry names Go middleware that rules can reference with "use".
type Registry map[string]Func

// Rule is one entry of the middleware file.
type Rule struct {
	// Match is a doublestar glob against the request path. Empty matches
	// every path.
	Match    string            `json:"match,omitempty"`
	Methods  []string          `json:"methods,omitempty"`
	Use      string            `json:"use,omitempty"`
	Status   int               `json:"status,omitempty"`
	Body     string            `json:"body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
}

type RuleError struct {
	Index  int
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("middleware rule %d: %s", e.Index, e.Reason)
}

// Load reads the rule file at path. A missing file yields an empty chain.
// Any other failure is returned so the caller can keep its previous chain.
func Load(path string, reg Registry) (Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Chain{}, nil
		}
		return nil, err
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return Compile(rules, reg)
}

// ParseRules accepts either a single rule object or an array of rules.
func ParseRules(data []byte) ([]Rule, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if data[0] == '[' {
		var rules []Rule
		if err := dec.Decode(&rules); err != nil {
			return nil, err
		}
		return rules, nil
	}
	var rule Rule
	if err := dec.Decode(&rule); err != nil {
		return nil, err
	}
	return []Rule{rule}, nil
}

// Compile validates rules and turns them into a chain.
func Compile(rules []Rule, reg Registry) (Chain, error) {
	chain := make(Chain, 0, len(rules))
	for i, r := range rules {
		fn, err := r.compile(reg)
		if err != nil {
			return nil, &RuleError{Index: i, Reason: err.Error()}
		}
		chain = append(chain, fn)
	}
	return chain, nil
}

func (r Rule) compile(reg Registry) (Func, error) {
	if r.Match != "" && !doublestar.ValidatePattern(r.Match) {
		return nil, fmt.Errorf("invalid match pattern %q", r.Match)
	}
	methods := make([]string, len(r.Methods))
	for i, m := range r.Methods {
		methods[i] = strings.ToUpper(m)
	}

	var action Func
	switch {
	case r.Use != "":
		fn, ok := reg[r.Use]
		if !ok || fn == nil {
			return nil, fmt.Errorf("unknown middleware %q", r.Use)
		}
		action = fn
	case r.Redirect != "":
		status := r.Status
		if status == 0 {
			status = http.StatusFound
		}
		if status < 300 || status > 399 {
			return nil, fmt.Errorf("redirect status %d is not a 3xx code", status)
		}
		action = func(*web.Request) (*web.Response, error) {
			return withHeaders(web.Redirect(r.Redirect, status), r.Headers), nil
		}
	case r.Status != 0 || r.Body != "":
		status := r.Status
		if status == 0 {
			status = http.StatusOK
		}
		action = func(*web.Request) (*web.Response, error) {
			return withHeaders(web.TextResponse(status, r.Body), r.Headers), nil
		}
	default:
		return nil, errors.New("rule has no action")
	}

	return func(req *web.Request) (*web.Response, error) {
		if !r.matches(req, methods) {
			return nil, nil
		}
		return action(req)
	}, nil
}

func (r Rule) matches(req *web.Request, methods []string) bool {
	if len(methods) > 0 && !slices.Contains(methods, req.Method) {
		return false
	}
	if r.Match == "" {
		return true
	}
	p := req.Path()
	if !strings.HasPrefix(r.Match, "/") {
		p = strings.TrimPrefix(p, "/")
	}
	ok, _ := doublestar.Match(r.Match, p)
	return ok
}

func withHeaders(res *web.Response, h map[string]string) *web.Response {
	for k, v := range h {
		res.Header.Set(k, v)
	}
	return res
}
