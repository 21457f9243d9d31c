package types

// ReleaseEvent is the inbound trigger for a propagation run
type ReleaseEvent struct {
	Version string `json:"version"`
}

// DispatchEvent is the notification sent to the downstream repository.
// Version never carries the tag prefix.
type DispatchEvent struct {
	Repository string `json:"repository"`
	EventType  string `json:"event_type"`
	Version    string `json:"version"`
}
