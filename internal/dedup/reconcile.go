// Package dedup reconciles the issues proposed for a file: duplicates on a
// line collapse to the most severe one and competing line replacements are
// held as conflicts for a human.
package dedup

import (
	"fmt"
	"sort"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

type lineKey struct {
	file string
	line int
}

// Reconcile returns a reconciled copy of issues and a summary of the result.
//
// Issues are grouped by file and line. Within a line, issues with the same
// action are duplicates whatever their type: the highest severity (lowest ID
// on ties) keeps its status and the remaining pending ones become
// superseded. Approved and applied issues hold their slot.
//
// Two or more replace_line issues on a line whose code differs byte for byte
// are a conflict whatever their severity. Approved and applied replacements
// count. Every one of them except the applied ones moves to conflict, listing
// the other replacements in ConflictWith.
//
// Running Reconcile on its own output changes nothing.
func Reconcile(issues []seo.Issue) ([]seo.Issue, seo.ConflictSummary) {
	out := clone(issues)

	groups := map[lineKey][]int{}
	var keys []lineKey
	for i := range out {
		k := lineKey{out[i].FilePath, out[i].LineNumber}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].file != keys[b].file {
			return keys[a].file < keys[b].file
		}
		return keys[a].line < keys[b].line
	})

	var summary seo.ConflictSummary
	for _, k := range keys {
		idxs := groups[k]
		conflicting := conflictSet(out, idxs)
		summary.Transitions += collapse(out, idxs, conflicting)
		if len(conflicting) > 0 {
			summary.Transitions += markConflicts(out, conflicting)
			summary.Details = append(summary.Details, detail(out, k, conflicting))
		}
	}

	for i := range out {
		switch out[i].Status {
		case seo.StatusSuperseded:
			summary.Superseded++
		case seo.StatusConflict:
			summary.Conflicts++
		}
	}
	return out, summary
}

// conflictSet returns the indices of replace_line issues on one line that
// compete with different code, or nil when the line has no conflict.
func conflictSet(issues []seo.Issue, idxs []int) []int {
	var members []int
	codes := map[string]bool{}
	for _, i := range idxs {
		is := &issues[i]
		if is.Action != seo.ActionReplaceLine || !competes(is.Status) {
			continue
		}
		members = append(members, i)
		codes[is.Code] = true
	}
	if len(members) < 2 || len(codes) < 2 {
		return nil
	}
	return members
}

// collapse applies the severity collapse to every duplicate set on a line,
// skipping issues that are about to become conflicts.
func collapse(issues []seo.Issue, idxs, conflicting []int) int {
	skip := map[int]bool{}
	for _, i := range conflicting {
		skip[i] = true
	}

	sets := map[seo.Action][]int{}
	var order []seo.Action
	for _, i := range idxs {
		is := &issues[i]
		if skip[i] || !claimsSlot(is.Status) {
			continue
		}
		k := is.Action
		if _, ok := sets[k]; !ok {
			order = append(order, k)
		}
		sets[k] = append(sets[k], i)
	}

	changed := 0
	for _, k := range order {
		members := sets[k]
		winner := members[0]
		for _, i := range members[1:] {
			if outranks(&issues[i], &issues[winner]) {
				winner = i
			}
		}
		for _, i := range members {
			if i == winner || issues[i].Status != seo.StatusPending {
				continue
			}
			mustTransition(&issues[i], seo.StatusSuperseded)
			changed++
		}
	}
	return changed
}

func markConflicts(issues []seo.Issue, members []int) int {
	changed := 0
	for _, i := range members {
		if issues[i].Status == seo.StatusApplied {
			continue
		}
		var others []int64
		for _, j := range members {
			if j != i {
				others = append(others, issues[j].ID)
			}
		}
		sort.Slice(others, func(a, b int) bool { return others[a] < others[b] })
		issues[i].ConflictWith = others
		if issues[i].Status != seo.StatusConflict {
			mustTransition(&issues[i], seo.StatusConflict)
			changed++
		}
	}
	return changed
}

func detail(issues []seo.Issue, k lineKey, members []int) seo.ConflictDetail {
	sorted := append([]int(nil), members...)
	sort.Slice(sorted, func(a, b int) bool { return issues[sorted[a]].ID < issues[sorted[b]].ID })
	d := seo.ConflictDetail{FilePath: k.file, LineNumber: k.line}
	for _, i := range sorted {
		d.IssueIDs = append(d.IssueIDs, issues[i].ID)
		d.Actions = append(d.Actions, issues[i].Action)
		d.Severities = append(d.Severities, issues[i].Severity)
	}
	return d
}

// outranks reports whether a beats b in a severity collapse.
func outranks(a, b *seo.Issue) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.ID < b.ID
}

// competes reports whether a replacement with status s takes part in
// conflict detection.
func competes(s seo.Status) bool {
	switch s {
	case seo.StatusPending, seo.StatusSuperseded, seo.StatusConflict, seo.StatusApproved, seo.StatusApplied:
		return true
	}
	return false
}

// claimsSlot reports whether an issue with status s takes part in a collapse.
func claimsSlot(s seo.Status) bool {
	return s == seo.StatusPending || s == seo.StatusApproved || s == seo.StatusApplied
}

func mustTransition(is *seo.Issue, to seo.Status) {
	if err := is.Transition(to); err != nil {
		panic(fmt.Sprintf("dedup: %v", err))
	}
}

func clone(issues []seo.Issue) []seo.Issue {
	out := make([]seo.Issue, len(issues))
	copy(out, issues)
	for i := range out {
		if out[i].ConflictWith != nil {
			out[i].ConflictWith = append([]int64(nil), out[i].ConflictWith...)
		}
	}
	return out
}
