package protocol

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

const (
	FrameError        = "error"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
)

// ClientRequest is an inbound frame from a browser client.
type ClientRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// ServerFrame is an outbound control frame. Quote events themselves are
// relayed verbatim and never pass through this type.
type ServerFrame struct {
	Type    string   `json:"type"`
	Message string   `json:"message,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// Status is the response body of GET /realtime/status.
type Status struct {
	UpstreamConfigured bool     `json:"upstream_configured"`
	UpstreamConnected  bool     `json:"upstream_connected"`
	QueueAvailable     bool     `json:"queue_available"`
	ConsumerRunning    bool     `json:"consumer_running"`
	ActiveConnections  int      `json:"active_connections"`
	SubscribedSymbols  []string `json:"subscribed_symbols"`
}
