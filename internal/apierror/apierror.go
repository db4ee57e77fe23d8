// Package apierror defines the failure kinds of the embedder and their client-facing payload.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, machine-readable tag of a failure.
type Kind string

const (
	KindEmptyInput        Kind = "EmptyInputError"
	KindModelPath         Kind = "ModelPathError"
	KindModelLoad         Kind = "ModelLoadError"
	KindEnvVar            Kind = "EnvVarError"
	KindInference         Kind = "InferenceError"
	KindOutputKeyNotFound Kind = "OutputKeyNotFound"
	KindOutputTransform   Kind = "OutputTransformError"
	KindConcurrency       Kind = "ConcurrencyError"
	KindNotImplemented    Kind = "NotImplemented"
	KindCannotEmbedInput  Kind = "CannotEmbedInput"
	KindUnknownModel      Kind = "UnknownModelError"
	KindInvalidRequest    Kind = "InvalidRequest"
	KindSerialization     Kind = "SerializationError"
	KindUserTerminated    Kind = "UserTerminated"
	KindIO                Kind = "IOError"
	KindArgs              Kind = "ArgsError"
)

// InputError localizes a failure to one document of a batch.
type InputError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// Error is the single error type crossing package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Inputs  []InputError
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindEmptyInput}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// StatusCode returns the HTTP status for the error.
// Every kind resolves to 500 for now, including client-caused ones.
func (e *Error) StatusCode() int {
	return http.StatusInternalServerError
}

// Payload is the JSON body returned for a failed request.
type Payload struct {
	Title       string       `json:"title"`
	Status      int          `json:"status"`
	Description string       `json:"description"`
	Errors      []InputError `json:"errors,omitempty"`
}

// Payload converts the error into its response body.
func (e *Error) Payload() Payload {
	return Payload{
		Title:       string(e.Kind),
		Status:      e.StatusCode(),
		Description: e.Error(),
		Errors:      e.Inputs,
	}
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind carrying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// EmptyInput is returned when a request carries no documents.
func EmptyInput() *Error {
	return New(KindEmptyInput, "No documents were provided")
}

// NotImplemented names a feature that is recognised but not supported.
func NotImplemented(feature string) *Error {
	return New(KindNotImplemented, "%s is not implemented", feature)
}

// ModelPath reports an asset that could not be read from path.
func ModelPath(path string, cause error) *Error {
	return Wrap(KindModelPath, cause, "Model could not be loaded from %s", path)
}

// ModelLoad reports assets that were read but could not be turned into a model.
func ModelLoad(name string, cause error) *Error {
	return Wrap(KindModelLoad, cause, "Model %s could not be loaded", name)
}

// EnvVar reports an environment variable that was missing, empty or unparsable.
func EnvVar(key string, cause error) *Error {
	return Wrap(KindEnvVar, cause, "Failed to parse environment variable '%s'", key)
}

// Concurrency reports a worker that failed to run its task.
func Concurrency(cause error) *Error {
	return Wrap(KindConcurrency, cause, "Embedding task could not be executed")
}

// CannotEmbed reports the documents of a batch that failed individually.
func CannotEmbed(inputs []InputError) *Error {
	return &Error{
		Kind:    KindCannotEmbedInput,
		Message: fmt.Sprintf("Cannot embed %d of the inputs", len(inputs)),
		Inputs:  inputs,
	}
}

// UserTerminated is the outcome of a shutdown requested by a signal.
func UserTerminated() *Error {
	return New(KindUserTerminated, "Server was terminated by the user")
}

// From returns err as an *Error. Untagged errors become InferenceError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindInference, err, "Failed to generate embeddings")
}

// KindOf returns the tag of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
