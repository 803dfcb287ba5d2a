package policy

import (
	"fmt"
	"net/http"
	"regexp"
)

// OnDemandParam is the query parameter or cookie carrying the on-demand
// profiling secret.
const OnDemandParam = "clockwork-profile"

// CollectRules are the structured overrides of a ShouldCollect policy.
// Nil pointers and empty strings leave the current value unchanged; list
// entries are appended.
type CollectRules struct {
	Except          []string `koanf:"except"`
	Only            []string `koanf:"only"`
	ExceptPreflight *bool    `koanf:"except_preflight"`
	OnDemand        string   `koanf:"on_demand"`
}

// ShouldCollect decides whether an incoming HTTP request gets a record at
// all. The default collects everything.
type ShouldCollect struct {
	rules     CollectRules
	except    []*regexp.Regexp
	only      []*regexp.Regexp
	predicate func(*http.Request) bool
}

// NewShouldCollect returns a policy that collects every request.
func NewShouldCollect() *ShouldCollect {
	return &ShouldCollect{}
}

// SetPolicy installs fn as an additional predicate; nil removes it.
func (p *ShouldCollect) SetPolicy(fn func(*http.Request) bool) *ShouldCollect {
	p.predicate = fn
	return p
}

// MergeRules merges rules into the policy. Invalid patterns leave the
// policy unchanged.
func (p *ShouldCollect) MergeRules(rules CollectRules) error {
	except, err := compileAll(rules.Except)
	if err != nil {
		return fmt.Errorf("except: %w", err)
	}
	only, err := compileAll(rules.Only)
	if err != nil {
		return fmt.Errorf("only: %w", err)
	}

	p.except = append(p.except, except...)
	p.only = append(p.only, only...)
	p.rules.Except = append(p.rules.Except, rules.Except...)
	p.rules.Only = append(p.rules.Only, rules.Only...)
	if rules.ExceptPreflight != nil {
		v := *rules.ExceptPreflight
		p.rules.ExceptPreflight = &v
	}
	if rules.OnDemand != "" {
		p.rules.OnDemand = rules.OnDemand
	}
	return nil
}

// Rules returns the merged rules.
func (p *ShouldCollect) Rules() CollectRules {
	return p.rules
}

// Filter reports whether r should be collected.
func (p *ShouldCollect) Filter(r *http.Request) bool {
	if p.rules.OnDemand != "" && !onDemandMatches(r, p.rules.OnDemand) {
		return false
	}
	if p.rules.ExceptPreflight != nil && *p.rules.ExceptPreflight && isPreflight(r) {
		return false
	}
	uri := r.URL.Path
	for _, re := range p.except {
		if re.MatchString(uri) {
			return false
		}
	}
	if len(p.only) > 0 && !anyMatch(p.only, uri) {
		return false
	}
	if p.predicate != nil && !p.predicate(r) {
		return false
	}
	return true
}

func onDemandMatches(r *http.Request, secret string) bool {
	if r.URL.Query().Get(OnDemandParam) == secret {
		return true
	}
	if c, err := r.Cookie(OnDemandParam); err == nil && c.Value == secret {
		return true
	}
	return false
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
