package httpx

import "errors"

var (
	// ErrParse marks malformed HTTP input. Inbound connections answer it
	// with a canned 400.
	ErrParse = errors.New("http parse error")

	// ErrPayloadError is returned when a payload was marked errored by the
	// other endpoint of the stream.
	ErrPayloadError = errors.New("payload errored")
)
