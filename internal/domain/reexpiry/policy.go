// Package reexpiry computes the expiry date assigned to a repackaged unit
// and guards any date pair before it is persisted.
//
// A repackaging method either preserves the source product's expiry or
// shortens it to a fraction of the remaining shelf life, capped at a number
// of calendar months. The numeric constants are institution policy and are
// carried in a Policy so they can be configured rather than hardcoded.
package reexpiry

import (
	"fmt"
	"sort"
)

// MethodID is the catalog identifier of a repackaging method. Method names
// are editable catalog text, so rules key on the identifier only.
type MethodID int

// Known catalog methods.
const (
	MethodLooseUnit   MethodID = 1 // sin blister
	MethodBlister     MethodID = 2
	MethodThreeMonths MethodID = 3
	MethodFourth      MethodID = 4
)

// MethodClass describes how a method treats the original expiry.
type MethodClass int

const (
	ClassUnknown MethodClass = iota
	ClassUnchanged
	ClassShortened
)

func (c MethodClass) String() string {
	switch c {
	case ClassUnchanged:
		return "unchanged"
	case ClassShortened:
		return "shortened"
	default:
		return "unknown"
	}
}

const (
	DefaultFraction         = 0.25
	DefaultMaxMonths        = 6
	DefaultAverageMonthDays = 30.44
)

// Policy holds the configurable constants of the re-expiry rule.
type Policy struct {
	// Fraction of the remaining shelf life granted to the repackaged unit.
	Fraction float64
	// MaxMonths caps the granted shelf life.
	MaxMonths int
	// AverageMonthDays converts a day difference into fractional months.
	AverageMonthDays float64
	// Unchanged lists methods that keep the original expiry.
	Unchanged []MethodID
	// Shortened lists methods that receive a shortened expiry.
	Shortened []MethodID
}

// DefaultPolicy returns the policy in use at the hospital pharmacy service.
func DefaultPolicy() Policy {
	return Policy{
		Fraction:         DefaultFraction,
		MaxMonths:        DefaultMaxMonths,
		AverageMonthDays: DefaultAverageMonthDays,
		Unchanged:        []MethodID{MethodLooseUnit, MethodFourth},
		Shortened:        []MethodID{MethodBlister, MethodThreeMonths},
	}
}

// Validate reports whether the policy constants are usable.
func (p Policy) Validate() error {
	if p.Fraction <= 0 || p.Fraction > 1 {
		return fmt.Errorf("fraction must be in (0, 1], got %v", p.Fraction)
	}
	if p.MaxMonths < 0 {
		return fmt.Errorf("max months must not be negative, got %d", p.MaxMonths)
	}
	if p.AverageMonthDays <= 0 {
		return fmt.Errorf("average month length must be positive, got %v", p.AverageMonthDays)
	}
	seen := make(map[MethodID]bool, len(p.Unchanged))
	for _, m := range p.Unchanged {
		seen[m] = true
	}
	for _, m := range p.Shortened {
		if seen[m] {
			return fmt.Errorf("method %d cannot be both unchanged and shortened", m)
		}
	}
	return nil
}

// Classify returns the class of a method identifier. Identifiers outside
// both lists are ClassUnknown and never produce a suggestion.
func (p Policy) Classify(m MethodID) MethodClass {
	for _, u := range p.Unchanged {
		if u == m {
			return ClassUnchanged
		}
	}
	for _, s := range p.Shortened {
		if s == m {
			return ClassShortened
		}
	}
	return ClassUnknown
}

// Methods returns every method identifier the policy knows, ascending.
func (p Policy) Methods() []MethodID {
	out := make([]MethodID, 0, len(p.Unchanged)+len(p.Shortened))
	out = append(out, p.Unchanged...)
	out = append(out, p.Shortened...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
