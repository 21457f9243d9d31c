// Package failure defines the terminal error kinds a propagation run can end with.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies why a step failed
type Kind string

const (
	KindInvalidVersion    Kind = "InvalidVersion"
	KindManifestNotFound  Kind = "ManifestNotFound"
	KindPatternNotMatched Kind = "PatternNotMatched"
	KindPushRejected      Kind = "PushRejected"
	KindPushFailed        Kind = "PushFailed"
	KindCloneFailed       Kind = "CloneFailed"
	KindTagAlreadyExists  Kind = "TagAlreadyExists"
	KindNoTagsFound       Kind = "NoTagsFound"
	KindDeliveryFailed    Kind = "DeliveryFailed"
	KindUnauthorized      Kind = "Unauthorized"
)

// Step names used when reporting where a run stopped
const (
	StepValidate = "validate"
	StepClone    = "clone"
	StepManifest = "update-manifest"
	StepCommit   = "commit"
	StepTag      = "tag"
	StepLatest   = "latest-tag"
	StepDispatch = "dispatch"
)

// Error is a classified failure. Step is filled in by the pipeline once the
// failing operation is known.
type Error struct {
	Kind Kind
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a classified error from a format string
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AtStep attaches a step name to err. Unclassified errors are returned as is.
func AtStep(step string, err error) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	if fe.Step != "" {
		return err
	}
	return &Error{Kind: fe.Kind, Step: step, Err: fe.Err}
}

// KindOf returns the kind of err, or "" if err is not classified
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// StepOf returns the step err was raised at, or "" if unknown
func StepOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Step
	}
	return ""
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
