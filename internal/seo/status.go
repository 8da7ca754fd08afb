package seo

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
	StatusConflict   Status = "conflict"
	StatusRolledBack Status = "rolled_back"
)

// ErrIllegalTransition is returned when a status change is not in the lifecycle table.
var ErrIllegalTransition = errors.New("illegal status transition")

// transitions is the closed lifecycle table. Anything absent is illegal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected, StatusSuperseded, StatusConflict},
	StatusSuperseded: {StatusConflict},
	StatusConflict:   {StatusPending, StatusRejected},
	StatusApproved:   {StatusApplied, StatusFailed, StatusRejected, StatusConflict},
	StatusApplied:    {StatusRolledBack},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusApplied,
		StatusFailed, StatusSuperseded, StatusConflict, StatusRolledBack:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the issue to the given status or returns ErrIllegalTransition.
func (i *Issue) Transition(to Status) error {
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("issue %d %s -> %s: %w", i.ID, i.Status, to, ErrIllegalTransition)
	}
	i.Status = to
	return nil
}
