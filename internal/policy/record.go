package policy

import "github.com/akave-ai/clockwork/internal/model"

// RecordRules are the structured overrides of a ShouldRecord policy.
// SlowThreshold is in milliseconds.
type RecordRules struct {
	ErrorsOnly    *bool   `koanf:"errors_only"`
	SlowOnly      *bool   `koanf:"slow_only"`
	SlowThreshold float64 `koanf:"slow_threshold"`
}

// ShouldRecord decides whether a resolved request is persisted. The
// default records everything.
type ShouldRecord struct {
	rules     RecordRules
	predicate func(*model.Request) bool
}

// NewShouldRecord returns a policy that records every request.
func NewShouldRecord() *ShouldRecord {
	return &ShouldRecord{}
}

// SetPolicy installs fn as an additional predicate; nil removes it.
func (p *ShouldRecord) SetPolicy(fn func(*model.Request) bool) *ShouldRecord {
	p.predicate = fn
	return p
}

// MergeRules overrides the fields set in rules.
func (p *ShouldRecord) MergeRules(rules RecordRules) *ShouldRecord {
	if rules.ErrorsOnly != nil {
		v := *rules.ErrorsOnly
		p.rules.ErrorsOnly = &v
	}
	if rules.SlowOnly != nil {
		v := *rules.SlowOnly
		p.rules.SlowOnly = &v
	}
	if rules.SlowThreshold > 0 {
		p.rules.SlowThreshold = rules.SlowThreshold
	}
	return p
}

// Rules returns the merged rules.
func (p *ShouldRecord) Rules() RecordRules {
	return p.rules
}

// Filter reports whether req should be stored.
func (p *ShouldRecord) Filter(req *model.Request) bool {
	if isSet(p.rules.ErrorsOnly) && req.ResponseStatus < 400 {
		return false
	}
	if isSet(p.rules.SlowOnly) && req.ResponseDurationMs() <= p.rules.SlowThreshold {
		return false
	}
	if p.predicate != nil && !p.predicate(req) {
		return false
	}
	return true
}

func isSet(b *bool) bool {
	return b != nil && *b
}

// Bool returns a pointer to v, for building rules.
func Bool(v bool) *bool {
	return &v
}
