// Package errs defines the ClipError sum type that operator and writer
// failures are funneled through, plus the total classification function
// the Driver uses to choose retry vs dead-letter.
//
// Grounded on egoworld/utils/errors.py's exception hierarchy
// (RetryableError/TransientIOError/OOMError/DecodeError/
// InvalidDataError/ModelMissingError + classify_error), replaced per
// spec.md §9 with a closed Go sum type instead of an open exception
// tree: the classifier becomes a total function over Kind rather than
// a chain of isinstance checks.
package errs

import (
	"errors"
	"strings"
)

// Kind tags a ClipError as one of the known retryable or terminal
// failure modes, or Unknown for anything surfaced from outside this
// package (e.g. a raw error from an operator boundary).
type Kind int

const (
	Unknown Kind = iota
	TransientIO
	OutOfMemory
	VideoDecodeFailure
	InvalidData
	ModelMissing
)

func (k Kind) String() string {
	switch k {
	case TransientIO:
		return "transient_io"
	case OutOfMemory:
		return "oom"
	case VideoDecodeFailure:
		return "decode_failure"
	case InvalidData:
		return "invalid_data"
	case ModelMissing:
		return "model_missing"
	default:
		return "unknown"
	}
}

// ClipError is the error type operators and the writer return for any
// failure that should flow through classification. Wrap a raw error
// with New to preserve Kind across the Driver's retry/terminal
// decision.
type ClipError struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string, cause error) *ClipError {
	return &ClipError{Kind: kind, Message: message, Cause: cause}
}

func (e *ClipError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *ClipError) Unwrap() error { return e.Cause }

// Classification is the Error Classifier's total output: whether the
// error is retryable, and the reason recorded for provenance and
// dead-letter rows.
type Classification struct {
	Retryable bool
	Reason    string
}

// Classify is the only input the Driver uses to choose retry vs
// dead-letter, per spec.md §4.C. Rules, evaluated in order:
//  1. a known retryable Kind (TransientIO, OutOfMemory);
//  2. a known terminal Kind (VideoDecodeFailure, InvalidData,
//     ModelMissing);
//  3. message-based heuristics on the stringified error, for foreign
//     errors that never passed through a ClipError;
//  4. otherwise terminal, reason "unknown".
func Classify(err error) Classification {
	if err == nil {
		return Classification{Retryable: false, Reason: "unknown"}
	}

	var ce *ClipError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case TransientIO:
			return Classification{Retryable: true, Reason: TransientIO.String()}
		case OutOfMemory:
			return Classification{Retryable: true, Reason: OutOfMemory.String()}
		case VideoDecodeFailure:
			return Classification{Retryable: false, Reason: VideoDecodeFailure.String()}
		case InvalidData:
			return Classification{Retryable: false, Reason: InvalidData.String()}
		case ModelMissing:
			return Classification{Retryable: false, Reason: ModelMissing.String()}
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "out of memory") {
		return Classification{Retryable: true, Reason: "oom"}
	}
	if strings.Contains(msg, "cuda") && strings.Contains(msg, "error") {
		return Classification{Retryable: true, Reason: "cuda_error"}
	}
	return Classification{Retryable: false, Reason: "unknown"}
}
