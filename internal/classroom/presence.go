package classroom

import "sort"

type presenceKey struct {
	role   Role
	userID string
}

// PresenceSet holds the latest published state per (role, participant).
// Publishes replace the previous entry wholesale; there is no merge and no
// history. Like Feed, it relies on the owning Room for locking.
type PresenceSet struct {
	states map[presenceKey]PresenceState
}

// Publish replaces the entry for (state.Role, state.UserID).
func (p *PresenceSet) Publish(state PresenceState) {
	if p.states == nil {
		p.states = make(map[presenceKey]PresenceState)
	}
	p.states[presenceKey{role: state.Role, userID: state.UserID}] = state
}

// List returns all entries sorted by descending recency. Entries with equal
// timestamps sort by role then participant id so the order is deterministic.
func (p *PresenceSet) List() []PresenceState {
	if len(p.states) == 0 {
		return nil
	}
	states := make([]PresenceState, 0, len(p.states))
	for _, st := range p.states {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].TS != states[j].TS {
			return states[i].TS > states[j].TS
		}
		if states[i].Role != states[j].Role {
			return states[i].Role < states[j].Role
		}
		return states[i].UserID < states[j].UserID
	})
	return states
}
