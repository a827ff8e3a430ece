package conversation

import "encoding/json"

// Log is an append-only sequence of messages in display order.
//
// A Log is a value: Append returns a new Log and leaves the receiver as it
// was, so a snapshot handed to an observer never changes under it. The zero
// value is an empty log.
type Log struct {
	entries []Message
}

// NewLog returns a log holding msgs in order.
func NewLog(msgs ...Message) Log {
	return Log{entries: append([]Message(nil), msgs...)}
}

// Append returns a log with m added at the end.
func (l Log) Append(m Message) Log {
	next := make([]Message, len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	return Log{entries: append(next, m)}
}

// Len returns the number of messages.
func (l Log) Len() int { return len(l.entries) }

// At returns the i-th message. It panics when i is out of range, like a
// slice index.
func (l Log) At(i int) Message { return l.entries[i] }

// Last returns the newest message, if any.
func (l Log) Last() (Message, bool) {
	if len(l.entries) == 0 {
		return Message{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Messages returns a copy of every entry.
func (l Log) Messages() []Message {
	return append([]Message(nil), l.entries...)
}

// Since returns a copy of the entries from index i onward. An i beyond the
// end yields nil.
func (l Log) Since(i int) []Message {
	if i < 0 {
		i = 0
	}
	if i >= len(l.entries) {
		return nil
	}
	return append([]Message(nil), l.entries[i:]...)
}

// MarshalJSON encodes the log as a JSON array, never null.
func (l Log) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func (l *Log) UnmarshalJSON(b []byte) error {
	var msgs []Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return err
	}
	l.entries = msgs
	return nil
}
