package domain

import (
	"testing"

	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		evt     MessagePosted
		want    Status
		changed bool
	}{
		{"client reply resumes work", StatusWaitingForCustomer, MessagePosted{AuthorRole: actorcontext.RoleClient}, StatusInProgress, true},
		{"admin reply waits for customer", StatusInProgress, MessagePosted{AuthorRole: actorcontext.RoleAdmin}, StatusWaitingForCustomer, true},
		{"admin internal note", StatusInProgress, MessagePosted{AuthorRole: actorcontext.RoleAdmin, IsInternalNote: true}, StatusInProgress, false},
		{"client reply on open ticket", StatusOpen, MessagePosted{AuthorRole: actorcontext.RoleClient}, StatusOpen, false},
		{"admin reply on open ticket", StatusOpen, MessagePosted{AuthorRole: actorcontext.RoleAdmin}, StatusOpen, false},
		{"client reply while in progress", StatusInProgress, MessagePosted{AuthorRole: actorcontext.RoleClient}, StatusInProgress, false},
		{"admin reply while waiting", StatusWaitingForCustomer, MessagePosted{AuthorRole: actorcontext.RoleAdmin}, StatusWaitingForCustomer, false},
		{"admin reply on closed ticket", StatusClosed, MessagePosted{AuthorRole: actorcontext.RoleAdmin}, StatusClosed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, changed := Transition(tc.current, tc.evt)
			assert.Equal(t, tc.want, next)
			assert.Equal(t, tc.changed, changed)
		})
	}
}

func TestParseStatusAndPriority(t *testing.T) {
	status, ok := ParseStatus(" waiting_for_customer ")
	assert.True(t, ok)
	assert.Equal(t, StatusWaitingForCustomer, status)

	_, ok = ParseStatus("RESOLVED")
	assert.False(t, ok)

	priority, ok := ParsePriority("urgent")
	assert.True(t, ok)
	assert.Equal(t, PriorityUrgent, priority)

	_, ok = ParsePriority("")
	assert.False(t, ok)
}

func TestStatusChangeMessage(t *testing.T) {
	assert.Equal(t, "Status changed from IN_PROGRESS to CLOSED", StatusChangeMessage(StatusInProgress, StatusClosed))
}
