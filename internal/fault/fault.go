// SPDX-License-Identifier: MPL-2.0

// Package fault classifies update-engine failures into a small closed set of
// kinds so that hosts can render them and decide on remediation without
// parsing error strings.
package fault

import (
	"errors"
	"fmt"
)

const (
	// KindUnknown is the zero Kind, used for errors that were never classified.
	KindUnknown Kind = iota
	// KindNetwork covers failed, timed-out, or non-success HTTP requests.
	KindNetwork
	// KindParse covers forge responses that are not in the expected shape.
	KindParse
	// KindArchive covers corrupt, unsupported, or unverifiable archives.
	KindArchive
	// KindFilesystem covers staging, backup, and promotion I/O failures.
	KindFilesystem
	// KindConfiguration covers missing or invalid coordinates and settings.
	KindConfiguration
)

var (
	// ErrNetwork is the sentinel wrapped by every KindNetwork error.
	ErrNetwork = errors.New("network error")
	// ErrParse is the sentinel wrapped by every KindParse error.
	ErrParse = errors.New("parse error")
	// ErrArchive is the sentinel wrapped by every KindArchive error.
	ErrArchive = errors.New("archive error")
	// ErrFilesystem is the sentinel wrapped by every KindFilesystem error.
	ErrFilesystem = errors.New("filesystem error")
	// ErrConfiguration is the sentinel wrapped by every KindConfiguration error.
	ErrConfiguration = errors.New("configuration error")
)

type (
	// Kind identifies the class of a failure.
	Kind int

	// Error is a classified failure. Op names the operation that failed
	// ("list tags", "extract archive"), Err is the underlying cause.
	//
	// Partial is only meaningful for KindFilesystem errors raised during
	// promotion: it reports that some files had already been written to the
	// live install when the failure happened, so the install may be in a mixed
	// state and should be restored from backup.
	Error struct {
		Kind    Kind
		Op      string
		Partial bool
		Err     error
	}
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindParse:
		return "ParseError"
	case KindArchive:
		return "ArchiveError"
	case KindFilesystem:
		return "FilesystemError"
	case KindConfiguration:
		return "ConfigurationError"
	case KindUnknown:
		return "UnknownError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind name so the kind survives JSON, YAML and TOML
// round trips in persisted state and status output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, candidate := range []Kind{KindUnknown, KindNetwork, KindParse, KindArchive, KindFilesystem, KindConfiguration} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown fault kind %q", string(text))
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindParse:
		return ErrParse
	case KindArchive:
		return ErrArchive
	case KindFilesystem:
		return ErrFilesystem
	case KindConfiguration:
		return ErrConfiguration
	case KindUnknown:
		return nil
	}
	return nil
}

// New creates a classified error. A nil err still yields a usable error whose
// message is the operation alone.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Network is shorthand for New(KindNetwork, op, err).
func Network(op string, err error) *Error { return New(KindNetwork, op, err) }

// Parse is shorthand for New(KindParse, op, err).
func Parse(op string, err error) *Error { return New(KindParse, op, err) }

// Archive is shorthand for New(KindArchive, op, err).
func Archive(op string, err error) *Error { return New(KindArchive, op, err) }

// Filesystem is shorthand for New(KindFilesystem, op, err).
func Filesystem(op string, err error) *Error { return New(KindFilesystem, op, err) }

// Configuration is shorthand for New(KindConfiguration, op, err).
func Configuration(op string, err error) *Error { return New(KindConfiguration, op, err) }

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Op
	if e.Partial {
		msg += " (partially applied)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is(err, fault.ErrNetwork) and errors.Is(err, context.DeadlineExceeded)
// both work on the same value.
func (e *Error) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsPartial reports whether err carries the partially-applied flag.
func IsPartial(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Partial
	}
	return false
}
