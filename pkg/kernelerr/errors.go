//
// Copyright 2026 sel4cap authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package kernelerr is the error taxonomy shared by every layer of sel4cap:
// enumerated kernel outcomes plus the wrapper errors each subsystem adds on
// top. Nothing here recovers silently; every fallible call returns one of
// these.
package kernelerr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// KernelCode mirrors the seL4 kernel's own error enum (seL4_Error).
type KernelCode int

const (
	InvalidArgument KernelCode = iota
	InvalidCapability
	IllegalOperation
	RangeError
	AlignmentError
	FailedLookup
	TruncatedMessage
	DeleteFirst
	RevokeFirst
	NotEnoughMemory
	UnknownErrorCode
)

func (c KernelCode) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidCapability:
		return "InvalidCapability"
	case IllegalOperation:
		return "IllegalOperation"
	case RangeError:
		return "RangeError"
	case AlignmentError:
		return "AlignmentError"
	case FailedLookup:
		return "FailedLookup"
	case TruncatedMessage:
		return "TruncatedMessage"
	case DeleteFirst:
		return "DeleteFirst"
	case RevokeFirst:
		return "RevokeFirst"
	case NotEnoughMemory:
		return "NotEnoughMemory"
	default:
		return "UnknownErrorCode"
	}
}

// KernelError is a single outcome reported by a seL4 syscall. UnknownError
// carries the raw kernel return code when it doesn't map onto a named
// KernelCode.
type KernelError struct {
	Code        KernelCode
	UnknownCode int
}

func (e *KernelError) Error() string {
	if e.Code == UnknownErrorCode {
		return fmt.Sprintf("kernel: unknown error (code %d)", e.UnknownCode)
	}
	return "kernel: " + e.Code.String()
}

// UnknownError wraps a raw, unrecognized kernel return code.
func UnknownError(code int) *KernelError {
	return &KernelError{Code: UnknownErrorCode, UnknownCode: code}
}

// New wraps a named KernelCode.
func New(code KernelCode) *KernelError {
	return &KernelError{Code: code}
}

// SeL4Error wraps a KernelError with the syscall that raised it, for
// diagnosis.
type SeL4Error struct {
	Syscall string
	Cause   *KernelError
}

func (e *SeL4Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Syscall, e.Cause.Error())
}

func (e *SeL4Error) Unwrap() error { return e.Cause }

// WrapSyscall attaches the syscall name that produced a KernelError.
func WrapSyscall(syscall string, cause *KernelError) *SeL4Error {
	return &SeL4Error{Syscall: syscall, Cause: cause}
}

// VSpaceError is paging-specific.
type VSpaceError struct {
	Kind  VSpaceErrorKind
	Cause error
}

type VSpaceErrorKind int

const (
	ExhaustedPagingResources VSpaceErrorKind = iota
	UnavailableAddressRange
	RegionMisaligned
	ASIDAlreadyAssigned
	VSpaceOpOnMappedRegion
	VSpaceAlreadyShared
	VSpaceKernelError
)

func (e *VSpaceError) Error() string {
	switch e.Kind {
	case ExhaustedPagingResources:
		return "vspace: exhausted paging resources"
	case UnavailableAddressRange:
		return "vspace: no available address range"
	case RegionMisaligned:
		return "vspace: region misaligned"
	case ASIDAlreadyAssigned:
		return "vspace: asid already assigned"
	case VSpaceOpOnMappedRegion:
		return "vspace: region is in the wrong mapping state for this operation"
	case VSpaceAlreadyShared:
		return "vspace: region is already shared"
	default:
		return fmt.Sprintf("vspace: kernel error: %v", e.Cause)
	}
}

func (e *VSpaceError) Unwrap() error { return e.Cause }

func NewVSpaceError(kind VSpaceErrorKind) *VSpaceError {
	return &VSpaceError{Kind: kind}
}

func WrapVSpaceKernelError(cause error) *VSpaceError {
	return &VSpaceError{Kind: VSpaceKernelError, Cause: cause}
}

// IPCError covers marshaling and channel-setup failures.
type IPCError struct {
	Kind  IPCErrorKind
	Cause error
}

type IPCErrorKind int

const (
	PayloadTooLarge IPCErrorKind = iota
	BadgeCollision
	MarshalFailed
	IPCKernelError
)

func (e *IPCError) Error() string {
	switch e.Kind {
	case PayloadTooLarge:
		return "ipc: payload too large for IPC buffer"
	case BadgeCollision:
		return "ipc: badge collision"
	case MarshalFailed:
		return fmt.Sprintf("ipc: marshal failed: %v", e.Cause)
	default:
		return fmt.Sprintf("ipc: kernel error: %v", e.Cause)
	}
}

func (e *IPCError) Unwrap() error { return e.Cause }

func NewIPCError(kind IPCErrorKind) *IPCError { return &IPCError{Kind: kind} }

// NewIPCErrorWithCause attaches a causing error to kind, for the
// MarshalFailed/IPCKernelError kinds that carry one.
func NewIPCErrorWithCause(kind IPCErrorKind, cause error) *IPCError {
	return &IPCError{Kind: kind, Cause: cause}
}

func WrapIPCKernelError(cause error) *IPCError {
	return &IPCError{Kind: IPCKernelError, Cause: cause}
}

// IRQError covers IRQ-control failures.
type IRQError struct {
	Kind  IRQErrorKind
	Cause error
}

type IRQErrorKind int

const (
	UnavailableIRQ IRQErrorKind = iota
	IRQOutOfRange
	IRQNotSet
	IRQKernelError
)

func (e *IRQError) Error() string {
	switch e.Kind {
	case UnavailableIRQ:
		return "irq: line already claimed"
	case IRQOutOfRange:
		return "irq: line number out of range"
	case IRQNotSet:
		return "irq: handler has no notification set"
	default:
		return fmt.Sprintf("irq: kernel error: %v", e.Cause)
	}
}

func (e *IRQError) Unwrap() error { return e.Cause }

func NewIRQError(kind IRQErrorKind) *IRQError { return &IRQError{Kind: kind} }

// NewIRQErrorWithCause attaches a causing error, for IRQKernelError.
func NewIRQErrorWithCause(kind IRQErrorKind, cause error) *IRQError {
	return &IRQError{Kind: kind, Cause: cause}
}

// ProcessSetupError covers process-construction failures.
type ProcessSetupError struct {
	Kind   ProcessSetupErrorKind
	Detail string
	Aggr   []error
}

type ProcessSetupErrorKind int

const (
	ProcessParameterTooBigForStack ProcessSetupErrorKind = iota
	ProcessParameterHandoffSizeMismatch
	NotEnoughCNodeSlots
	ElfParseError
	Aggregate
)

func (e *ProcessSetupError) Error() string {
	switch e.Kind {
	case ProcessParameterTooBigForStack:
		return "process: parameter too big for stack"
	case ProcessParameterHandoffSizeMismatch:
		return "process: parameter handoff size mismatch"
	case NotEnoughCNodeSlots:
		return "process: not enough CNode slots"
	case ElfParseError:
		return "process: elf parse error: " + e.Detail
	case Aggregate:
		return stderrors.Join(e.Aggr...).Error()
	default:
		return "process: setup error"
	}
}

func NewProcessSetupError(kind ProcessSetupErrorKind, detail string) *ProcessSetupError {
	return &ProcessSetupError{Kind: kind, Detail: detail}
}

// AggregateProcessSetupError joins several setup failures, e.g. when a
// teardown path wants to report everything that went wrong while unwinding.
func AggregateProcessSetupError(errs ...error) *ProcessSetupError {
	return &ProcessSetupError{Kind: Aggregate, Aggr: errs}
}

// QueueFullError is returned by Producer.Enqueue; it hands back the item
// that could not be queued.
type QueueFullError[T any] struct {
	Item T
}

func (e *QueueFullError[T]) Error() string { return "ipc: queue full" }

// NewQueueFullError wraps the item an Enqueue call could not accept so
// the caller gets it back instead of losing it.
func NewQueueFullError[T any](item T) *QueueFullError[T] {
	return &QueueFullError[T]{Item: item}
}

// FaultManagementError covers fault-channel setup failures.
type FaultManagementError struct {
	Detail string
	Cause  error
}

func (e *FaultManagementError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fault: %s: %v", e.Detail, e.Cause)
	}
	return "fault: " + e.Detail
}

func (e *FaultManagementError) Unwrap() error { return e.Cause }

// NewFaultManagementError builds a fault-channel-setup failure with an
// optional causing error.
func NewFaultManagementError(detail string, cause error) *FaultManagementError {
	return &FaultManagementError{Detail: detail, Cause: cause}
}

// ErrResourceExhausted is returned by the weak untyped allocator and the slot
// accountant when a request cannot be satisfied from the resources at hand.
var ErrResourceExhausted = errors.New("kernelerr: resource exhausted")

// ErrUntypedSizeOutOfRange is returned when splitting or quartering an
// Untyped would produce a child smaller than the minimum object size.
var ErrUntypedSizeOutOfRange = errors.New("kernelerr: untyped size out of range")

// ErrCapabilityConsumed is returned when code attempts to reuse an
// already-consumed affine capability or slot witness.
var ErrCapabilityConsumed = errors.New("kernelerr: capability already consumed")
