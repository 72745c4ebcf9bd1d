package conversation

import (
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one committed history entry. Immutable once appended.
type Utterance struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the append-only conversation record for one session. It is
// owned by exactly one session and never shared, so it carries no lock.
// A system entry, if present, is first and appears at most once; after it,
// user and assistant entries strictly alternate starting with user.
type History struct {
	entries []Utterance
}

var (
	ErrEmptyContent  = errors.New("conversation: empty utterance content")
	ErrOutOfSequence = errors.New("conversation: utterance out of sequence")
)

func NewHistory() *History {
	return &History{entries: make([]Utterance, 0, 16)}
}

// AppendSystem records the system entry. Only valid on an empty history.
func (h *History) AppendSystem(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(h.entries) != 0 {
		return fmt.Errorf("%w: system entry must be first", ErrOutOfSequence)
	}
	h.entries = append(h.entries, Utterance{Role: RoleSystem, Content: content})
	return nil
}

func (h *History) AppendUser(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if last, ok := h.last(); ok && last.Role == RoleUser {
		return fmt.Errorf("%w: consecutive user entries", ErrOutOfSequence)
	}
	h.entries = append(h.entries, Utterance{Role: RoleUser, Content: content})
	return nil
}

func (h *History) AppendAssistant(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	last, ok := h.last()
	if !ok || last.Role != RoleUser {
		return fmt.Errorf("%w: assistant entry must follow a user entry", ErrOutOfSequence)
	}
	h.entries = append(h.entries, Utterance{Role: RoleAssistant, Content: content})
	return nil
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) HasSystem() bool {
	return len(h.entries) > 0 && h.entries[0].Role == RoleSystem
}

// Snapshot returns a copy safe to hand to collaborators.
func (h *History) Snapshot() []Utterance {
	out := make([]Utterance, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) last() (Utterance, bool) {
	if len(h.entries) == 0 {
		return Utterance{}, false
	}
	return h.entries[len(h.entries)-1], true
}
