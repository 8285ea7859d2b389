package queue

// EventType represents a queue event type.
type EventType int

const (
	EventQueueChanged      EventType = iota // Entries added, removed or reordered
	EventSuggestionChanged                  // The suggested tail entry was replaced or cleared
	EventEntryPromoted                      // A suggested entry became committed
	EventAdvanced                           // The head entry finished and was removed
	EventQueueEmpty                         // No committed entries remain
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventQueueChanged:
		return "queue_changed"
	case EventSuggestionChanged:
		return "suggestion_changed"
	case EventEntryPromoted:
		return "entry_promoted"
	case EventAdvanced:
		return "advanced"
	case EventQueueEmpty:
		return "queue_empty"
	default:
		return "unknown"
	}
}

// Event represents a queue change event.
type Event struct {
	Type  EventType
	Entry *Entry // The entry concerned, nil for some events
}
