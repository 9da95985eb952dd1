package models

import "fmt"

type OutcomeKind string

const (
	OutcomeOk      OutcomeKind = "ok"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the result of a step that may legitimately skip its input.
type Outcome[T any] struct {
	Kind   OutcomeKind
	Value  T
	Reason string
	Err    error
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: OutcomeOk, Value: v}
}

func Skipped[T any](reason string) Outcome[T] {
	return Outcome[T]{Kind: OutcomeSkipped, Reason: reason}
}

func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: OutcomeFailed, Err: err, Reason: err.Error()}
}

func (o Outcome[T]) String() string {
	switch o.Kind {
	case OutcomeOk:
		return "ok"
	case OutcomeSkipped:
		return fmt.Sprintf("skipped: %s", o.Reason)
	default:
		return fmt.Sprintf("failed: %v", o.Err)
	}
}
