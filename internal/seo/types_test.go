package seo

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("urgent").Rank())
	assert.False(t, Severity("urgent").Valid())
}

func TestActionValid(t *testing.T) {
	tests := []struct {
		action   Action
		valid    bool
		additive bool
	}{
		{ActionInsertAfterLine, true, true},
		{ActionReplaceLine, true, false},
		{ActionAnnotate, true, true},
		{Action("delete_line"), false, false},
		{Action(""), false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.action.Valid(), "Valid(%q)", tt.action)
		assert.Equal(t, tt.additive, tt.action.Additive(), "Additive(%q)", tt.action)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		legal    bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusSuperseded, true},
		{StatusPending, StatusConflict, true},
		{StatusApproved, StatusApplied, true},
		{StatusApproved, StatusFailed, true},
		{StatusApproved, StatusConflict, true},
		{StatusApplied, StatusRolledBack, true},
		{StatusSuperseded, StatusConflict, true},
		{StatusConflict, StatusPending, true},
		{StatusConflict, StatusApplied, false},
		{StatusPending, StatusApplied, false},
		{StatusSuperseded, StatusPending, false},
		{StatusRolledBack, StatusApplied, false},
		{StatusFailed, StatusApproved, false},
		{StatusApplied, StatusApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.legal, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIssueTransition(t *testing.T) {
	issue := &Issue{ID: 7, Status: StatusPending}
	require.NoError(t, issue.Transition(StatusApproved))
	assert.Equal(t, StatusApproved, issue.Status)

	err := issue.Transition(StatusPending)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, StatusApproved, issue.Status, "failed transition must not change status")
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusFailed, StatusRolledBack} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []Status{StatusPending, StatusApproved, StatusConflict} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestEnforceReview(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		code       string
		flagged    bool
		want       bool
	}{
		{"below threshold", 0.69, "<title>x</title>", false, true},
		{"at threshold", 0.70, "<title>x</title>", false, false},
		{"ai flag kept", 0.95, "<title>x</title>", true, true},
		{"placeholder", 0.99, `<meta name="description" content="{{PRODUCT_NAME}}">`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := Issue{Confidence: tt.confidence, Code: tt.code, ReviewRequired: tt.flagged}
			issue.EnforceReview()
			assert.Equal(t, tt.want, issue.ReviewRequired)
		})
	}
}

func TestRawProposalDecode(t *testing.T) {
	data := `{"type":"meta_issue","line":12,"action":"replace_line","code":"<meta>","reason":"missing","severity":"high","confidence":0.8,"review_required":false}`
	var p RawProposal
	require.NoError(t, json.Unmarshal([]byte(data), &p))
	assert.Equal(t, 12, p.Line)
	assert.Equal(t, "replace_line", p.Action)
	assert.InDelta(t, 0.8, p.Confidence, 1e-9)
}

func TestChunkContains(t *testing.T) {
	c := Chunk{StartLine: 161, EndLine: 340}
	assert.True(t, c.Contains(161))
	assert.True(t, c.Contains(340))
	assert.False(t, c.Contains(160))
	assert.False(t, c.Contains(341))
}
