package dedup

import (
	"errors"
	"fmt"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// ErrNotInConflict is returned when resolving an issue that is not in conflict.
var ErrNotInConflict = errors.New("issue is not in conflict")

// ErrCompetitorApplied is returned when a conflict includes a replacement
// that is already on disk. It has to be rolled back before a winner is picked.
var ErrCompetitorApplied = errors.New("competing replacement is applied")

// ResolveConflict settles a conflict in favour of winnerID. The winner returns
// to pending, where it can be approved, and every issue it conflicts with on
// the same line is rejected. The input is not modified.
func ResolveConflict(issues []seo.Issue, winnerID int64) ([]seo.Issue, error) {
	out := clone(issues)
	winner := -1
	for i := range out {
		if out[i].ID == winnerID {
			winner = i
			break
		}
	}
	if winner < 0 {
		return nil, fmt.Errorf("resolve conflict: issue %d not found", winnerID)
	}
	w := &out[winner]
	if w.Status != seo.StatusConflict {
		return nil, fmt.Errorf("resolve conflict: issue %d is %s: %w", winnerID, w.Status, ErrNotInConflict)
	}

	losers := map[int64]bool{}
	for _, id := range w.ConflictWith {
		losers[id] = true
	}
	for i := range out {
		if losers[out[i].ID] && out[i].Status == seo.StatusApplied {
			return nil, fmt.Errorf("resolve conflict: issue %d: %w", out[i].ID, ErrCompetitorApplied)
		}
	}
	for i := range out {
		is := &out[i]
		if i == winner || is.Status != seo.StatusConflict {
			continue
		}
		if is.FilePath != w.FilePath || is.LineNumber != w.LineNumber {
			continue
		}
		if !losers[is.ID] && !contains(is.ConflictWith, winnerID) {
			continue
		}
		if err := is.Transition(seo.StatusRejected); err != nil {
			return nil, fmt.Errorf("resolve conflict: %w", err)
		}
	}
	if err := w.Transition(seo.StatusPending); err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	return out, nil
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
