package engine

import (
	"slices"
	"sort"
	"strings"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// RootAlias is the alias every present account is subscribed to.
const RootAlias = "root"

// AliasResult is the outcome of merging contributions into the alias state.
type AliasResult struct {
	Before  ir.AliasState
	Next    ir.AliasState
	Updates ir.AliasState // changed entries only; an empty list removes the entry
	Changed []string      // sorted alias names
	Notify  bool          // at least one managed account alias has a recipient
}

// Aggregate computes the next alias state from the current one and the
// account contributions of a run.
//
// Each account owns the alias named after it: its recipients are replaced by
// the contributed email, or the entry is dropped when the account is absent
// or has no email. The root alias keeps its existing recipients, gains the
// ids of present accounts and loses the ids of absent ones.
func Aggregate(contribs []ir.Contribution, current ir.AliasState) (*AliasResult, error) {
	contribs, err := checkContributions(contribs)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	for _, c := range contribs {
		if c.State == ir.Present && c.Email != "" {
			next[c.AccountID] = []string{c.Email}
		} else {
			delete(next, c.AccountID)
		}
	}

	remove := make(map[string]bool)
	for _, c := range contribs {
		if c.State == ir.Absent {
			remove[c.AccountID] = true
		}
	}

	var root []string
	for _, r := range flatten(current[RootAlias]) {
		if !remove[r] {
			root = append(root, r)
		}
	}
	for _, c := range contribs {
		if c.State == ir.Present && !slices.Contains(root, c.AccountID) {
			root = append(root, c.AccountID)
		}
	}
	if len(root) == 0 {
		delete(next, RootAlias)
	} else {
		next[RootAlias] = root
	}

	result := &AliasResult{
		Before:  current.Clone(),
		Next:    next,
		Updates: make(ir.AliasState),
	}

	names := make(map[string]bool)
	for name := range current {
		names[name] = true
	}
	for name := range next {
		names[name] = true
	}
	for name := range names {
		if !slices.Equal(current[name], next[name]) {
			result.Changed = append(result.Changed, name)
			result.Updates[name] = append([]string{}, next[name]...)
		}
	}
	sort.Strings(result.Changed)

	for _, c := range contribs {
		if c.State == ir.Present && len(next[c.AccountID]) > 0 {
			result.Notify = true
			break
		}
	}

	return result, nil
}

// checkContributions rejects malformed or conflicting contributions and
// collapses exact repeats.
func checkContributions(contribs []ir.Contribution) ([]ir.Contribution, error) {
	seen := make(map[string]ir.Contribution, len(contribs))
	out := make([]ir.Contribution, 0, len(contribs))

	for _, c := range contribs {
		switch {
		case c.AccountID == "":
			return nil, &AggregationError{Msg: "contribution without account id"}
		case c.AccountID == RootAlias:
			return nil, &AggregationError{AccountID: c.AccountID, Msg: "account id collides with the root alias"}
		case !c.State.Valid():
			return nil, &AggregationError{AccountID: c.AccountID, Msg: "invalid state " + string(c.State)}
		case strings.ContainsAny(c.Email, ",\n"):
			return nil, &AggregationError{AccountID: c.AccountID, Msg: "email must be a single address"}
		}

		if prev, ok := seen[c.AccountID]; ok {
			if prev != c {
				return nil, &AggregationError{AccountID: c.AccountID, Msg: "conflicting contributions in one run"}
			}
			continue
		}
		seen[c.AccountID] = c
		out = append(out, c)
	}
	return out, nil
}

// flatten splits comma-joined recipients and drops blanks and repeats,
// keeping first-seen order.
func flatten(recipients []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, entry := range recipients {
		for _, r := range strings.Split(entry, ",") {
			r = strings.TrimSpace(r)
			if r == "" || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
