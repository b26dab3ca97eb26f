// internal/core/result.go
package core

import "fmt"

// Result is the uniform outcome wrapper returned by every operation.
// Failure never crosses the provider boundary as a panic or a bare error;
// callers branch on IsError/IsWarning instead of concrete error types.
type Result[T any] struct {
	Value     T        `json:"value,omitempty"`
	IsError   bool     `json:"isError"`
	IsWarning bool     `json:"isWarning"`
	Message   string   `json:"message,omitempty"`
	Err       error    `json:"-"`
	Warnings  []string `json:"warnings,omitempty"`

	WasLoaded    bool  `json:"wasLoaded,omitempty"`
	WasSaved     bool  `json:"wasSaved,omitempty"`
	WasDeleted   bool  `json:"wasDeleted,omitempty"`
	DeletedCount int64 `json:"deletedCount,omitempty"`
}

// OK returns a successful result carrying value.
func OK[T any](value T) *Result[T] {
	return &Result[T]{Value: value}
}

// OKMsg returns a successful result with a human message.
func OKMsg[T any](value T, msg string) *Result[T] {
	return &Result[T]{Value: value, Message: msg}
}

// Warn returns a partial success: a usable value plus a warning.
func Warn[T any](value T, msg string) *Result[T] {
	return &Result[T]{Value: value, IsWarning: true, Message: msg, Warnings: []string{msg}}
}

// Fail returns an error result. The Value is the zero value and must not
// be used by callers.
func Fail[T any](msg string) *Result[T] {
	return &Result[T]{IsError: true, Message: msg}
}

// Failf formats a message and returns an error result.
func Failf[T any](format string, args ...interface{}) *Result[T] {
	return Fail[T](fmt.Sprintf(format, args...))
}

// FailErr returns an error result wrapping a cause.
func FailErr[T any](err error, msg string) *Result[T] {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Result[T]{IsError: true, Message: msg, Err: err}
}

// AddWarning records a warning without failing the result.
func (r *Result[T]) AddWarning(msg string) {
	r.IsWarning = true
	r.Warnings = append(r.Warnings, msg)
	if r.Message == "" {
		r.Message = msg
	}
}

// Succeeded reports whether the result carries a usable value.
func (r *Result[T]) Succeeded() bool {
	return r != nil && !r.IsError
}

// Error makes an error Result usable where an error is expected.
func (r *Result[T]) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Message, r.Err)
	}
	return r.Message
}

// Unwrap exposes the cause for errors.Is/As checks.
func (r *Result[T]) Unwrap() error {
	return r.Err
}

// Rewrap converts a Result of one payload type to another, preserving
// everything but the value. Callers converting a success must set the new
// value themselves.
func Rewrap[U, T any](r *Result[T]) *Result[U] {
	return &Result[U]{
		IsError:      r.IsError,
		IsWarning:    r.IsWarning,
		Message:      r.Message,
		Err:          r.Err,
		Warnings:     r.Warnings,
		WasLoaded:    r.WasLoaded,
		WasSaved:     r.WasSaved,
		WasDeleted:   r.WasDeleted,
		DeletedCount: r.DeletedCount,
	}
}
