package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Kind classifies a failure by cause.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindMalformedResponse
	KindPermissionDenied
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindMalformedResponse:
		return "malformed_response"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Reference errors used as marks. They are never returned directly.
var (
	errNetwork           = crdb.New("network error")
	errMalformedResponse = crdb.New("malformed response")
	errPermissionDenied  = crdb.New("permission denied")
	errConfiguration     = crdb.New("configuration error")
)

var kindMarks = []struct {
	kind Kind
	mark error
}{
	{KindNetwork, errNetwork},
	{KindMalformedResponse, errMalformedResponse},
	{KindPermissionDenied, errPermissionDenied},
	{KindConfiguration, errConfiguration},
}

func markFor(k Kind) error {
	for _, km := range kindMarks {
		if km.kind == k {
			return km.mark
		}
	}
	return nil
}

// Mark tags err with kind k. A nil err stays nil.
func Mark(err error, k Kind) error {
	if err == nil {
		return nil
	}
	m := markFor(k)
	if m == nil {
		return err
	}
	return crdb.Mark(err, m)
}

// KindOf returns the first kind err was marked with, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, km := range kindMarks {
		if crdb.Is(err, km.mark) {
			return km.kind
		}
	}
	return KindUnknown
}

// Network wraps err as a network failure.
func Network(err error, msg string) error {
	return Mark(crdb.Wrap(err, msg), KindNetwork)
}

// Malformed returns a new malformed-response failure.
func Malformed(format string, args ...any) error {
	return Mark(crdb.Newf(format, args...), KindMalformedResponse)
}

// PermissionDenied wraps err as a permission failure.
func PermissionDenied(err error, msg string) error {
	return Mark(crdb.Wrap(err, msg), KindPermissionDenied)
}

// Configuration returns a new configuration failure.
func Configuration(format string, args ...any) error {
	return Mark(crdb.Newf(format, args...), KindConfiguration)
}
