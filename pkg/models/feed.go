package models

// Wire frames for the upstream market-data feed. The relay itself treats
// received event payloads as opaque bytes; these types cover only the
// control protocol (auth, subscription management) and the synthetic
// trades emitted by the feed simulator.

// AuthRequest is the first frame sent after the transport connects.
type AuthRequest struct {
	Action string `json:"action"` // always "auth"
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// SubscribeRequest manages the upstream subscription set. The same shape
// is used for "subscribe" and "unsubscribe" actions.
type SubscribeRequest struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
	Quotes []string `json:"quotes"`
}

// ControlMessage is a status frame from the feed (auth results, errors).
// The feed sends these inside a JSON array like every other frame.
type ControlMessage struct {
	Type string `json:"T"` // "success" or "error"
	Msg  string `json:"msg,omitempty"`
	Code int    `json:"code,omitempty"`
}

// Trade is a single market trade event as emitted by the feed simulator,
// matching the upstream feed's field names.
type Trade struct {
	Type      string  `json:"T"` // "t"
	Symbol    string  `json:"S"`
	Price     float64 `json:"p"`
	Size      int64   `json:"s"`
	Timestamp string  `json:"t"` // RFC 3339
}
