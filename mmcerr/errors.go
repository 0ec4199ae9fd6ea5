// Package mmcerr defines the status-code taxonomy shared by every mmc
// component. A Code is what crosses RPC and public API boundaries; Go
// errors never escape a package's own internals.
package mmcerr

import (
	"errors"
	"fmt"
)

// Code is the signed status returned by every public mmc API. Zero is
// success; all failures are negative, mirroring the C ABI this system
// replaces (spec §7).
type Code int32

const (
	OK Code = 0

	// INVALID: caller-side contract violated (nil ptr, empty key, key
	// length > MaxKeyLen, zero/misaligned size, bad dimType, dpitch<width).
	INVALID Code = -(iota + 1)
	// UNMATCHED_KEY: key not present in the container.
	UnmatchedKey
	// DUPLICATED: first-write-wins collision on Put/Alloc.
	Duplicated
	// UNMATCHED_STATE: blob state rejected the requested transition.
	UnmatchedState
	// OUT_OF_SPACE: no allocator can satisfy the request at the tier asked.
	OutOfSpace
	// TIMEOUT: RPC or lease wait exceeded its deadline.
	Timeout
	// TRANSPORT: DMA engine or RPC socket failed.
	Transport
	// NOT_STARTED: allocator or service used before Start.
	NotStarted
	// NOT_INITIALIZED: service used before its lifecycle setup completed.
	NotInitialized
	// LEASE_NOT_EXPIRED: readers outstanding and deadline not yet passed.
	LeaseNotExpired
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case INVALID:
		return "INVALID"
	case UnmatchedKey:
		return "UNMATCHED_KEY"
	case Duplicated:
		return "DUPLICATED"
	case UnmatchedState:
		return "UNMATCHED_STATE"
	case OutOfSpace:
		return "OUT_OF_SPACE"
	case Timeout:
		return "TIMEOUT"
	case Transport:
		return "TRANSPORT"
	case NotStarted:
		return "NOT_STARTED"
	case NotInitialized:
		return "NOT_INITIALIZED"
	case LeaseNotExpired:
		return "LEASE_NOT_EXPIRED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(c))
	}
}

// Error adapts a Code into the standard error interface so internal Go
// code can use normal error plumbing; public API boundaries unwrap back
// to a bare Code before returning to callers (spec §7: "all public APIs
// return a signed integer status").
type Error struct {
	Code Code
	Msg  string
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// ToCode extracts the Code from any error produced by this package,
// defaulting to TRANSPORT for errors mmc did not originate (e.g. a raw
// net.Error bubbling out of the RPC layer).
func ToCode(err error) Code {
	if err == nil {
		return OK
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return Transport
}
