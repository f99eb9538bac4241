package types

// EventAttribute is a single key-value tag within an event.
// Indexed attributes are the ones a receipt indexer may key on.
type EventAttribute struct {
	Key     string `cramberry:"1"`
	Value   string `cramberry:"2"`
	Indexed bool   `cramberry:"3"`
}

// Event is emitted by a successful instruction and returned in its
// TxOutcome.
type Event struct {
	Kind       string           `cramberry:"1"`
	Attributes []EventAttribute `cramberry:"2"`
}

// NewEvent builds an event from alternating key and value strings.
// Keys prefixed with '#' are indexed; the prefix is stripped.
func NewEvent(kind string, kv ...string) Event {
	ev := Event{Kind: kind, Attributes: make([]EventAttribute, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		key, indexed := kv[i], false
		if len(key) > 0 && key[0] == '#' {
			key, indexed = key[1:], true
		}
		ev.Attributes = append(ev.Attributes, EventAttribute{Key: key, Value: kv[i+1], Indexed: indexed})
	}
	return ev
}

// Attr returns the value of the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
