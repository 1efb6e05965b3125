package ingest

import "errors"

// Sentinel errors for the ingest pipeline.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformedPayload indicates a payload that could not be decoded.
	ErrMalformedPayload = errors.New("ingest: malformed payload")

	// ErrUnroutableTopic indicates a topic that matches no known route.
	ErrUnroutableTopic = errors.New("ingest: unroutable topic")
)
