// Package verify compares expected against observed state and produces
// structured pass/fail verdicts. All checks are pure; callers fetch the
// observed state.
package verify

import (
	"fmt"
	"strings"

	"github.com/channelnet/scenario-runner/node"
)

// FieldDiff is one mismatching field of an assertion.
type FieldDiff struct {
	Field    string
	Expected string
	Actual   string
}

// AssertionError reports an expected/actual mismatch. It is always fatal to
// the enclosing serial group and never retried.
type AssertionError struct {
	Subject string
	Diffs   []FieldDiff
}

func (e *AssertionError) Error() string {
	parts := make([]string, 0, len(e.Diffs))
	for _, d := range e.Diffs {
		parts = append(parts, fmt.Sprintf("%s: expected %s, got %s", d.Field, d.Expected, d.Actual))
	}

	return fmt.Sprintf("assertion failed on %s: %s", e.Subject, strings.Join(parts, "; "))
}

// ChannelExpectation is the set of channel attributes an assert step checks.
// Nil fields are not checked.
type ChannelExpectation struct {
	TotalDeposit *uint64
	Balance      *uint64
	State        *string
}

// Channel compares the expectation against an observed channel. It returns
// nil when every set field matches, or an *AssertionError listing each
// mismatching field.
func Channel(subject string, exp ChannelExpectation, observed *node.Channel) error {
	var diffs []FieldDiff
	if exp.TotalDeposit != nil && *exp.TotalDeposit != observed.TotalDeposit {
		diffs = append(diffs, FieldDiff{
			Field:    "total_deposit",
			Expected: fmt.Sprintf("%d", *exp.TotalDeposit),
			Actual:   fmt.Sprintf("%d", observed.TotalDeposit),
		})
	}
	if exp.Balance != nil && *exp.Balance != observed.Balance {
		diffs = append(diffs, FieldDiff{
			Field:    "balance",
			Expected: fmt.Sprintf("%d", *exp.Balance),
			Actual:   fmt.Sprintf("%d", observed.Balance),
		})
	}
	if exp.State != nil && *exp.State != observed.State {
		diffs = append(diffs, FieldDiff{
			Field:    "state",
			Expected: *exp.State,
			Actual:   observed.State,
		})
	}
	if len(diffs) == 0 {
		return nil
	}

	return &AssertionError{Subject: subject, Diffs: diffs}
}

// EventCount requires got to equal want exactly. Zero expected events is a
// meaningful absence proof: any observed event fails the check.
func EventCount(contract, event string, want, got int) error {
	if got == want {
		return nil
	}

	return &AssertionError{
		Subject: fmt.Sprintf("%s.%s events", contract, event),
		Diffs: []FieldDiff{{
			Field:    "count",
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
		}},
	}
}
