package query

import (
	"strings"
	"sync"
)

const defaultMemoryTurns = 10

// Memory keeps recent question/answer turns per conversation in process.
type Memory struct {
	mu       sync.Mutex
	maxTurns int
	turns    map[string][]string
}

func NewMemory(maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = defaultMemoryTurns
	}
	return &Memory{maxTurns: maxTurns, turns: make(map[string][]string)}
}

// MemoryKey identifies a conversation by user, industry and plant.
func MemoryKey(userID, industry, plant string) string {
	return userID + ":" + industry + ":" + plant
}

func (m *Memory) Append(key, question, answer string) {
	turn := "Q: " + question + "\nA: " + answer + "\n\n"
	m.mu.Lock()
	defer m.mu.Unlock()
	t := append(m.turns[key], turn)
	if len(t) > m.maxTurns {
		t = t[len(t)-m.maxTurns:]
	}
	m.turns[key] = t
}

// History renders the stored turns oldest first.
func (m *Memory) History(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.turns[key], "")
}

func (m *Memory) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, key)
}
