// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package amierr defines the host error taxonomy (spec.md §7), distinct
// from AmigaDOS error numbers. Each kind is a concrete struct implementing
// error, following this codebase's convention of typed errors carrying
// structured fields plus an errors.As-friendly predicate helper for
// callers that need to branch on kind.
package amierr

import (
	"errors"
	"fmt"
	"syscall"
)

// ImageError reports that the disk image is unreadable, truncated, or
// carries a malformed RDB.
type ImageError struct {
	Path string
	Err  error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("amifuse: image %s: %v", e.Path, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// IsImageError reports whether err is an *ImageError.
func IsImageError(err error) bool {
	var target *ImageError
	return errors.As(err, &target)
}

// HandlerLoadError reports a malformed hunk file.
type HandlerLoadError struct {
	Path string
	Err  error
}

func (e *HandlerLoadError) Error() string {
	return fmt.Sprintf("amifuse: loading handler %s: %v", e.Path, e.Err)
}

func (e *HandlerLoadError) Unwrap() error { return e.Err }

// IsHandlerLoadError reports whether err is a *HandlerLoadError.
func IsHandlerLoadError(err error) bool {
	var target *HandlerLoadError
	return errors.As(err, &target)
}

// HandlerBootFailed reports that the startup packet came back with
// result1 == 0, or that the bootstrap cycle/wall-time budget was
// exhausted before the handler replied.
type HandlerBootFailed struct {
	Reason string
	Result1,
	Result2 int32
}

func (e *HandlerBootFailed) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("amifuse: handler boot failed: %s", e.Reason)
	}
	return fmt.Sprintf("amifuse: handler boot failed: startup packet returned result1=%d result2=%d", e.Result1, e.Result2)
}

// IsHandlerBootFailed reports whether err is a *HandlerBootFailed.
func IsHandlerBootFailed(err error) bool {
	var target *HandlerBootFailed
	return errors.As(err, &target)
}

// PacketTimeout reports that a single packet call exceeded its cycle or
// wall-clock budget. It carries no AmigaDOS error code: it is not
// converted to ERROR_NO_DISK, and lockcache.ToErrno surfaces it as EIO.
type PacketTimeout struct {
	Action      int32
	CyclesSpent uint64
}

func (e *PacketTimeout) Error() string {
	return fmt.Sprintf("amifuse: packet action %d timed out after %d cycles", e.Action, e.CyclesSpent)
}

// IsPacketTimeout reports whether err is a *PacketTimeout.
func IsPacketTimeout(err error) bool {
	var target *PacketTimeout
	return errors.As(err, &target)
}

// PacketError wraps a nonzero AmigaDOS error code returned in a packet's
// dp_Res2 field. Errno maps it to the POSIX errno the FUSE adapter
// surfaces, per spec.md §7's table.
type PacketError struct {
	Action int32
	Code   int32
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("amifuse: packet action %d failed with AmigaDOS error %d", e.Action, e.Code)
}

// IsPacketError reports whether err is a *PacketError.
func IsPacketError(err error) bool {
	var target *PacketError
	return errors.As(err, &target)
}

// AmigaDOS error numbers referenced by the Errno mapping and by
// callers that need to recognize a specific code (e.g. end-of-directory).
const (
	ErrorObjectInUse     = 202
	ErrorDiskWriteProt   = 203
	ErrorDirNotFound     = 204
	ErrorObjectNotFound  = 205
	ErrorObjectWrongType = 212
	ErrorActionNotKnown  = 222
	ErrorNoMoreEntries   = 232
)

// Errno maps the wrapped AmigaDOS error code to a POSIX errno per
// spec.md §7. dirContext should be true when the failing operation's
// target is known to be expected to be a directory (so a wrong-type
// error maps to ENOTDIR rather than EISDIR).
func (e *PacketError) Errno(dirContext bool) syscall.Errno {
	switch e.Code {
	case ErrorObjectNotFound, ErrorDirNotFound:
		return syscall.ENOENT
	case ErrorObjectInUse:
		return syscall.EBUSY
	case ErrorDiskWriteProt:
		return syscall.EROFS
	case ErrorObjectWrongType:
		if dirContext {
			return syscall.ENOTDIR
		}
		return syscall.EISDIR
	case ErrorActionNotKnown:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

// BusError reports that the emulator trapped an illegal memory access.
// Fatal: the mount unwinds to an orderly unmount after this.
type BusError struct {
	Addr uint32
	Op   string // "read" or "write"
}

func (e *BusError) Error() string {
	return fmt.Sprintf("amifuse: bus error on %s at 0x%08x", e.Op, e.Addr)
}

// IsBusError reports whether err is a *BusError.
func IsBusError(err error) bool {
	var target *BusError
	return errors.As(err, &target)
}

// ProtocolViolation reports that a packet reply arrived without a
// matching outstanding request, or some other invariant of the Exec/DOS
// model the bridge depends on was broken by the handler. Fatal.
type ProtocolViolation struct {
	Detail string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("amifuse: protocol violation: %s", e.Detail)
}

// IsProtocolViolation reports whether err is a *ProtocolViolation.
func IsProtocolViolation(err error) bool {
	var target *ProtocolViolation
	return errors.As(err, &target)
}

// Fatal reports whether err is one of the kinds that require an orderly
// unmount rather than surfacing as a single FUSE-call errno.
func Fatal(err error) bool {
	return IsBusError(err) || IsProtocolViolation(err) || IsHandlerBootFailed(err)
}
