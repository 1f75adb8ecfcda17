// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error vocabulary shared by the warren daemon's
// components. Every rejected or failed operation carries a machine-readable
// Kind alongside the human-readable message, so the HTTP gateway can map
// failures to status codes and clients can branch on the kind without
// string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed: components return one of
// these kinds, never ad-hoc strings.
type Kind string

const (
	// NameConflict: a container with the requested name already exists.
	NameConflict Kind = "NameConflict"
	// ImageVerificationFailed: signature verification rejected the image
	// under enforce mode.
	ImageVerificationFailed Kind = "ImageVerificationFailed"
	// ContainerNotReady: the target container is not in the Ready state
	// (missing, still starting, stopped, or busy with another task).
	ContainerNotReady Kind = "ContainerNotReady"
	// RuntimeUnavailable: the container runtime is unreachable or a
	// runtime operation failed outright.
	RuntimeUnavailable Kind = "RuntimeUnavailable"
	// Timeout: the operation exceeded its time budget.
	Timeout Kind = "Timeout"
	// RateLimited: the per-session admission quota is exhausted.
	RateLimited Kind = "RateLimited"
	// PolicyDenied: the request failed validation before any state change.
	PolicyDenied Kind = "PolicyDenied"
	// TransportError: the message transport rejected or could not accept
	// a message.
	TransportError Kind = "TransportError"
	// Cancelled: the caller abandoned the operation before it finished.
	Cancelled Kind = "Cancelled"
)

// Error is a classified failure. Callers extract it with errors.As:
//
//	var f *fault.Error
//	if errors.As(err, &f) && f.Kind == fault.RateLimited { ... }
type Error struct {
	// Kind is the machine-readable classification.
	Kind Kind
	// Message is the human-readable description.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error with the given kind, formatted message, and
// underlying cause. The cause participates in errors.Is / errors.As
// chains through Unwrap.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind carried by err, or "" when err is nil or not a
// classified fault.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
