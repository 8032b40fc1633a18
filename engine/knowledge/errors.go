package knowledge

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("knowledge: invalid input")
	ErrNotFound   = errors.New("knowledge: not found")
	ErrModelLoad  = errors.New("knowledge: model load failed")
	ErrEmbedding  = errors.New("knowledge: embedding request failed")
	ErrStore      = errors.New("knowledge: vector store request failed")
	ErrGeneration = errors.New("knowledge: generation failed")
	ErrBatch      = errors.New("knowledge: batch failed")
	ErrSink       = errors.New("knowledge: metadata sink rejected chunk")
	ErrClaimed    = errors.New("knowledge: document is being ingested elsewhere")
)

// ErrNoMatch is returned by retrieval when no match clears the score threshold.
// It is a NotFound condition, not a failure.
var ErrNoMatch = fmt.Errorf("%w: no match above threshold", ErrNotFound)

// Error attaches an error kind and the failing operation to a cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid builds a validation error for op.
func Invalid(op string, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether a caller may reasonably retry the operation
// that produced err. Validation and not-found outcomes are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrClaimed) {
		return false
	}
	return errors.Is(err, ErrStore) ||
		errors.Is(err, ErrModelLoad) ||
		errors.Is(err, ErrEmbedding) ||
		errors.Is(err, ErrGeneration) ||
		errors.Is(err, ErrBatch) ||
		errors.Is(err, ErrSink)
}

// BatchFailure reports a batch whose embedding or upload failed.
type BatchFailure struct {
	Batch int
	Start int
	End   int
	Err   error
}

func (b *BatchFailure) Error() string {
	return fmt.Sprintf("knowledge: batch %d (chunks %d-%d): %v", b.Batch, b.Start, b.End-1, b.Err)
}

func (b *BatchFailure) Unwrap() []error {
	return []error{ErrBatch, b.Err}
}

// BatchFailures extracts every BatchFailure joined into err.
func BatchFailures(err error) []*BatchFailure {
	if err == nil {
		return nil
	}
	var out []*BatchFailure
	var walk func(error)
	walk = func(e error) {
		if bf, ok := e.(*BatchFailure); ok {
			out = append(out, bf)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}
