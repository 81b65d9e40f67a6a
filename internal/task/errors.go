// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package task implements the Task Service: the ttrpc-facing component
// that keeps a registry of InstanceData keyed by container ID and
// translates RPC calls into instance operations.
package task

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/state"
)

// Kind is the local error taxonomy from spec.md §7; every RPC-facing
// error is, or wraps, one of these.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindAlreadyExists
	KindFailedPrecondition
)

// Error pairs a Kind with the underlying cause, grounded on the
// teacher's toGRPC/toGRPCf pattern in pkg/containerd-shim-v2/errors.go,
// generalized from sentinel-error matching to an explicit typed error
// since this package has no equivalent of virtcontainers' fixed
// sentinel set to match against.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// InvalidArgumentf builds an InvalidArgument error: malformed spec,
// unsupported binary, empty args.
func InvalidArgumentf(format string, args ...interface{}) error {
	return newError(KindInvalidArgument, format, args...)
}

// NotFoundf builds a NotFound error: unknown container ID.
func NotFoundf(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}

// AlreadyExistsf builds an AlreadyExists error: duplicate Create.
func AlreadyExistsf(format string, args ...interface{}) error {
	return newError(KindAlreadyExists, format, args...)
}

// wrapf attaches format/args context to err without losing its Kind or
// an underlying *state.InvalidTransitionError's FailedPrecondition
// mapping, mirroring the teacher's toGRPCf.
func wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// toGRPC maps err to a canonical gRPC status error. Already-mapped
// errors pass through unchanged, exactly as the teacher's isGRPCError
// short-circuit does.
func toGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var taskErr *Error
	if stderrors.As(err, &taskErr) {
		return status.Error(grpcCode(taskErr.Kind), taskErr.Error())
	}

	var invalidTransition *state.InvalidTransitionError
	if stderrors.As(err, &invalidTransition) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	return status.Error(codes.Unknown, err.Error())
}

// toGRPCf wraps err with formatted context, then maps it, matching the
// teacher's toGRPCf(err, format, args...) call shape.
func toGRPCf(err error, format string, args ...interface{}) error {
	return toGRPC(wrapf(err, format, args...))
}

func grpcCode(k Kind) codes.Code {
	switch k {
	case KindInvalidArgument:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindAlreadyExists:
		return codes.AlreadyExists
	case KindFailedPrecondition:
		return codes.FailedPrecondition
	default:
		return codes.Unknown
	}
}
