package session

import (
	"github.com/parleyvoice/parley/pkg/types"
)

// History holds the conversation turns sent to the LLM on each generation.
//
// A fresh history is seeded with a system-role preamble and a fixed
// assistant acknowledgement, mirroring how the agent is primed before the
// first user utterance. Seed messages are never evicted; only completed
// user/assistant exchanges count against the turn cap.
//
// History is not safe for concurrent use. The session loop is its only
// caller.
type History struct {
	seed     []types.Message
	turns    []types.Message
	maxTurns int
}

// NewHistory returns a [History] seeded with the given system preamble and
// assistant acknowledgement. maxTurns caps the number of retained
// user/assistant exchanges; zero or negative means unbounded.
func NewHistory(system, ack string, maxTurns int) *History {
	h := &History{maxTurns: maxTurns}
	if system != "" {
		h.seed = append(h.seed, types.Message{Role: types.RoleSystem, Content: system})
	}
	if ack != "" {
		h.seed = append(h.seed, types.Message{Role: types.RoleAssistant, Content: ack})
	}
	return h
}

// Append records one completed exchange: the user utterance that triggered a
// generation and the full assistant reply. Exchanges are only recorded after
// a generation finishes naturally, so a cancelled reply never pollutes the
// context sent to the LLM.
//
// When the turn cap is exceeded the oldest exchange is dropped as a pair,
// keeping user and assistant messages aligned.
func (h *History) Append(user, assistant string) {
	h.turns = append(h.turns,
		types.Message{Role: types.RoleUser, Content: user},
		types.Message{Role: types.RoleAssistant, Content: assistant},
	)
	if h.maxTurns > 0 {
		for len(h.turns) > h.maxTurns*2 {
			h.turns = h.turns[2:]
		}
	}
}

// Messages returns the seed plus retained exchanges as a fresh slice. The
// caller may append to the result (e.g. the in-flight user utterance)
// without affecting the history.
func (h *History) Messages() []types.Message {
	out := make([]types.Message, 0, len(h.seed)+len(h.turns))
	out = append(out, h.seed...)
	out = append(out, h.turns...)
	return out
}

// Len reports the number of retained exchanges, excluding seed messages.
func (h *History) Len() int {
	return len(h.turns) / 2
}
