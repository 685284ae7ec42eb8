package types

// InboundFrame is what a client sends over the websocket connection.
// Anything that does not decode into a non-empty message is silently ignored.
type InboundFrame struct {
	Message string `json:"message" mapstructure:"message"`
}

// OutboundFrame is broadcast to every subscriber of a room, the sender
// included, so the sender's view of room order matches everyone else's.
type OutboundFrame struct {
	User    string `json:"user"` // sender display name
	Content string `json:"content"`
}
