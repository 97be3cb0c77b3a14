// Package policy defines the Policy wire type published by SetPolicy and
// its validation rules, in the fluent-Validator style of the teacher's
// pkg/proc/subprocess/validation.go, trimmed to the fields this domain
// actually validates.
package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/hpcgov/rtd/internal/rterrors"
)

// AgentName enumerates the supported agent selectors (spec §6).
type AgentName string

const (
	AgentNone             AgentName = ""
	AgentMonitor          AgentName = "monitor"
	AgentPowerGovernor    AgentName = "power_governor"
	AgentFrequencyBalancer AgentName = "frequency_balancer"
	AgentClosMap          AgentName = "clos_map"
)

var knownAgents = map[AgentName]bool{
	AgentNone:              true,
	AgentMonitor:           true,
	AgentPowerGovernor:     true,
	AgentFrequencyBalancer: true,
	AgentClosMap:           true,
}

// Policy is the RPC-facing policy object (spec §6): agent selector, loop
// period, a free-form profile label, and an ordered, agent-specific
// parameter vector.
type Policy struct {
	Agent         AgentName `json:"agent"`
	PeriodSeconds float64   `json:"period_seconds"`
	Profile       string    `json:"profile"`
	Params        []float64 `json:"params"`
}

// ClosMapEntry is one (region_hash, clos_id) pair carried in a clos_map
// Policy's Params-adjacent configuration (spec §4.4's clos-map agent).
type ClosMapEntry struct {
	RegionHash uint64
	ClosID     int
}

// ClosMapPolicy is the decoded shape of a clos_map agent's parameters:
// a set of region-hash mappings plus a default CLOS and an uncore
// frequency override.
type ClosMapPolicy struct {
	Entries     []ClosMapEntry
	DefaultClos int
	UncoreFreq  float64 // NaN means "no override"
}

// fieldError records one validation failure the way the teacher's
// ValidationError does, without pulling in the rest of subprocess's
// CVE-specific pattern set.
type fieldError struct {
	field   string
	message string
}

func (e fieldError) String() string { return fmt.Sprintf("%s: %s", e.field, e.message) }

// Validator accumulates Policy validation failures across a fluent chain.
type Validator struct {
	errs []fieldError
}

// NewValidator creates an empty Validator.
func NewValidator() *Validator { return &Validator{} }

func (v *Validator) fail(field, message string) *Validator {
	v.errs = append(v.errs, fieldError{field: field, message: message})
	return v
}

// ValidatePeriod enforces period_seconds >= 0 (spec §3 invariant: "0 stops the loop").
func (v *Validator) ValidatePeriod(p Policy) *Validator {
	if p.PeriodSeconds < 0 {
		return v.fail("period_seconds", "must be >= 0")
	}
	return v
}

// ValidateAgent enforces the closed agent-name enumeration (spec §6).
func (v *Validator) ValidateAgent(p Policy) *Validator {
	if !knownAgents[p.Agent] {
		return v.fail("agent", fmt.Sprintf("unknown agent %q", p.Agent))
	}
	return v
}

// ValidateParamRange rejects a parameter outside [lo, hi] or NaN-when-not-allowed.
func (v *Validator) ValidateParamRange(value float64, lo, hi float64, allowNaN bool, field string) *Validator {
	if math.IsNaN(value) {
		if allowNaN {
			return v
		}
		return v.fail(field, "must not be NaN")
	}
	if value < lo || value > hi {
		return v.fail(field, fmt.Sprintf("must be within [%g, %g]", lo, hi))
	}
	return v
}

// ValidateClosMap rejects repeated region-hash entries (spec §4.4, §7).
// Entries pairing a NaN hash with a non-NaN clos id are rejected earlier,
// by DecodeClosMap.
func (v *Validator) ValidateClosMap(c ClosMapPolicy) *Validator {
	seen := make(map[uint64]bool, len(c.Entries))
	for _, e := range c.Entries {
		if seen[e.RegionHash] {
			v.fail("clos_map.entries", fmt.Sprintf("duplicate region_hash %d", e.RegionHash))
			continue
		}
		seen[e.RegionHash] = true
	}
	return v
}

// HasErrors reports whether any validation rule failed.
func (v *Validator) HasErrors() bool { return len(v.errs) > 0 }

// Error renders all accumulated failures as one message.
func (v *Validator) Error() string {
	parts := make([]string, len(v.errs))
	for i, e := range v.errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// Validate checks a freshly-received Policy's period_seconds (must not
// be negative) and agent name (must be a known agent), and returns a
// rterrors.Invalid error summarizing every failure found. It does not
// look at params; clos-map region hashes are checked by
// ValidateClosMapPolicy.
func Validate(p Policy) error {
	v := NewValidator().ValidatePeriod(p).ValidateAgent(p)
	if v.HasErrors() {
		return rterrors.New(rterrors.Invalid, v.Error())
	}
	return nil
}

// ValidateClosMapPolicy validates a decoded clos-map parameter set on top
// of the base Policy checks.
func ValidateClosMapPolicy(p Policy, c ClosMapPolicy) error {
	if err := Validate(p); err != nil {
		return err
	}
	v := NewValidator().ValidateClosMap(c)
	if v.HasErrors() {
		return rterrors.New(rterrors.Invalid, v.Error())
	}
	return nil
}

// DecodeClosMap unpacks a clos_map Policy's Params vector into pairs plus
// a trailing (default_clos, uncore_freq), mirroring the ordered-doubles
// convention spec §6 uses for every agent's parameter list:
// [hash0, clos0, hash1, clos1, ..., default_clos, uncore_freq].
func DecodeClosMap(p Policy) (ClosMapPolicy, error) {
	n := len(p.Params)
	if n < 2 || n%2 != 0 {
		return ClosMapPolicy{}, rterrors.New(rterrors.Invalid, "clos_map params must hold pairs plus a trailing (default_clos, uncore_freq)")
	}
	pairCount := (n - 2) / 2
	out := ClosMapPolicy{
		Entries:     make([]ClosMapEntry, 0, pairCount),
		DefaultClos: int(p.Params[n-2]),
		UncoreFreq:  p.Params[n-1],
	}
	for i := 0; i < pairCount; i++ {
		hash := p.Params[2*i]
		clos := p.Params[2*i+1]
		if math.IsNaN(hash) && !math.IsNaN(clos) {
			return ClosMapPolicy{}, rterrors.New(rterrors.Invalid, "NaN region_hash paired with non-NaN clos_id")
		}
		out.Entries = append(out.Entries, ClosMapEntry{RegionHash: uint64(hash), ClosID: int(clos)})
	}
	return out, nil
}
