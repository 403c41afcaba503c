package domain

import (
	"fmt"

	"github.com/smallbiznis/supportdesk/internal/actorcontext"
)

// MessagePosted is the conversation event that may move a ticket.
type MessagePosted struct {
	AuthorRole     actorcontext.Role
	IsInternalNote bool
}

// Transition returns the status a ticket moves to when evt happens in
// status current. changed is false when the status stays.
//
//	CLIENT public reply on WAITING_FOR_CUSTOMER -> IN_PROGRESS
//	ADMIN public reply on IN_PROGRESS           -> WAITING_FOR_CUSTOMER
func Transition(current Status, evt MessagePosted) (next Status, changed bool) {
	if evt.IsInternalNote {
		return current, false
	}
	switch {
	case evt.AuthorRole == actorcontext.RoleClient && current == StatusWaitingForCustomer:
		return StatusInProgress, true
	case evt.AuthorRole == actorcontext.RoleAdmin && current == StatusInProgress:
		return StatusWaitingForCustomer, true
	default:
		return current, false
	}
}

func StatusChangeMessage(from, to Status) string {
	if from == to {
		return fmt.Sprintf("Status set to %s", to)
	}
	return fmt.Sprintf("Status changed from %s to %s", from, to)
}

func PriorityChangeMessage(from, to Priority) string {
	if from == to {
		return fmt.Sprintf("Priority set to %s", to)
	}
	return fmt.Sprintf("Priority changed from %s to %s", from, to)
}
