// Package blocksync implements a rsync-style delta-transfer algorithm: a
// receiver-side block signature generator, a sender-side rolling-checksum
// scanner, and a receiver-side patch applier, connected either in-process
// (local mode) or over a TCP framing protocol (network mode).
package blocksync

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way the wire protocol and the CLI report it.
// It does not replace Go's error chains; it is attached to one so that
// callers at a boundary (the CLI, the network state machine) can decide how
// to react without parsing strings.
type Kind string

const (
	// KindBadConfig covers invalid block sizes, invalid ports, and missing
	// required arguments.
	KindBadConfig Kind = "bad_config"
	// KindPath covers a source that does not exist or a destination whose
	// parent directory cannot be written to.
	KindPath Kind = "path_error"
	// KindIO covers read/write/rename/fsync failures.
	KindIO Kind = "io_error"
	// KindNetwork covers connect failures, unexpected EOF, and oversized
	// frames.
	KindNetwork Kind = "network_error"
	// KindProtocol covers malformed frames, out-of-order frames, an
	// out-of-range block index, or a block-size mismatch between peers.
	KindProtocol Kind = "protocol_error"
	// KindPermission covers metadata preservation attempted without
	// sufficient privilege.
	KindPermission Kind = "permission_error"
)

// Error wraps an underlying cause with a Kind so the CLI can print one
// diagnostic line and exit non-zero without caring about the failure's
// internal shape.
type Error struct {
	kind  Kind
	cause error
}

// NewError wraps cause with kind, recording a single-line message via
// github.com/pkg/errors so the original stack is preserved for debugging.
func NewError(kind Kind, cause error) *Error {
	return &Error{kind: kind, cause: errors.WithStack(cause)}
}

// Wrapf behaves like NewError but formats the message first, mirroring the
// teacher's use of errors.Wrapf at every layer boundary.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Wrapf(cause, format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Kind reports the failure category.
func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, returning false otherwise.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.kind, true
	}
	return "", false
}
