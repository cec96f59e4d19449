// Package memory keeps the bounded, role-tagged dialogue history that is
// handed back to the generation backend as context.
package memory

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation. Turns are never mutated after they
// are appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Memory is an ordered log of turns, oldest first, holding at most
// maxSize interactions (2*maxSize turns).
//
// Memory is not safe for concurrent mutation; see Session.
type Memory struct {
	maxSize int
	turns   []Turn
}

func New(maxSize int) *Memory {
	if maxSize < 0 {
		maxSize = 0
	}
	return &Memory{maxSize: maxSize}
}

func (m *Memory) MaxSize() int {
	return m.maxSize
}

// AddInteraction appends the user turn followed by the assistant turn and
// drops the oldest interactions once the window is exceeded.
func (m *Memory) AddInteraction(userInput, assistantResponse string) {
	m.turns = append(m.turns,
		Turn{Role: RoleUser, Content: userInput},
		Turn{Role: RoleAssistant, Content: assistantResponse},
	)

	limit := 2 * m.maxSize
	if len(m.turns) > limit {
		// copy into a fresh slice so evicted turns are released
		kept := make([]Turn, limit)
		copy(kept, m.turns[len(m.turns)-limit:])
		m.turns = kept
	}
}

// History returns the current log. The slice must not be used after the
// next AddInteraction or Clear.
func (m *Memory) History() []Turn {
	return m.turns
}

func (m *Memory) Len() int {
	return len(m.turns)
}

func (m *Memory) Clear() {
	m.turns = nil
}
