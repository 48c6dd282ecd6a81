package realtime

import "github.com/oklog/ulid/v2"

// NewConnID returns a ULID used as websocket connection id.
// ULIDs sort by issue time, which keeps per-connection log lines groupable.
func NewConnID() string {
	return ulid.Make().String()
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID() string {
	return ulid.Make().String()
}
