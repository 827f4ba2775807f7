package chat

// EventType discriminates the events relayed to the client over the
// persistent connection.
type EventType string

const (
	EventStatus EventType = "status"
	EventChunk  EventType = "chunk"
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// Event is one streamed signal. Exactly one terminal event (done or error)
// ends every stream; the channel closes right after it.
type Event struct {
	Type EventType

	// Message is set for status and error events.
	Message string

	// Content is set for chunk events.
	Content string

	// FullResponse is set for the done event and equals the concatenation
	// of all chunk contents.
	FullResponse string
}

func statusEvent(msg string) Event {
	return Event{Type: EventStatus, Message: msg}
}
