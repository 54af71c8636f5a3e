package network

// ChatLog keeps the most recent entries, oldest first.
type ChatLog struct {
	limit   int
	entries []ChatMessage
}

func NewChatLog(limit int) *ChatLog {
	if limit < 1 {
		limit = 1
	}
	return &ChatLog{limit: limit, entries: make([]ChatMessage, 0, limit)}
}

func (l *ChatLog) Add(m ChatMessage) {
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.limit-1]
	}
	l.entries = append(l.entries, m)
}

// Replace swaps the log contents, keeping only the newest entries.
func (l *ChatLog) Replace(ms []ChatMessage) {
	if len(ms) > l.limit {
		ms = ms[len(ms)-l.limit:]
	}
	l.entries = append(l.entries[:0], ms...)
}

func (l *ChatLog) Len() int { return len(l.entries) }

// Entries returns a copy of the log.
func (l *ChatLog) Entries() []ChatMessage {
	out := make([]ChatMessage, len(l.entries))
	copy(out, l.entries)
	return out
}
