package store

import "clinic/queue-service/internal/models"

var transitionMap = map[string][]string{
	"call_next":   {models.StateCreated},
	"mark_served": {models.StateCreated, models.StateCalled},
}

func ValidTransition(action, fromState string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == fromState {
			return true
		}
	}
	return false
}
