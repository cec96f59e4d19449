package assistant

import (
	"context"
	"errors"
)

// ErrorKind tells apart the reasons a reply fell back to a sentinel.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindUnavailable: the backend was never configured or failed to start.
	KindUnavailable
	// KindBackend: transport, quota or API error from the backend.
	KindBackend
	// KindTimeout: the call ran past its deadline.
	KindTimeout
	// KindMalformed: the backend answered without usable content.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnavailable:
		return "unavailable"
	case KindBackend:
		return "backend"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

func classify(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrEmptyResponse):
		return KindMalformed
	default:
		return KindBackend
	}
}
