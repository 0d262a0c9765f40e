package core

// Client is a live connection as seen by the core layer.
type Client struct {
	ID       string
	Username string
	Events   chan *Event
}

// NewClient constructs a client with a buffered event channel.
func NewClient(id, username string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{
		ID:       id,
		Username: username,
		Events:   make(chan *Event, buffer),
	}
}

// TrySend enqueues an event without blocking. Returns false if the
// client's buffer is full and the event was dropped.
func (c *Client) TrySend(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}
