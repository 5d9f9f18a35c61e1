package core

import (
	"errors"
	"fmt"
)

// Kind classifies every rejection the ledger can return. Integrators branch on the
// kind to decide whether to wait, give up or escalate.
type Kind uint8

const (
	KindAccessDenied Kind = iota + 1
	KindNotFound
	KindConflict
	KindPhaseViolation
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPhaseViolation:
		return "phase_violation"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Disposition tells a caller what to do with a rejection.
type Disposition string

const (
	RetryLater Disposition = "retry-later"
	NeverRetry Disposition = "never-retry"
	Escalate   Disposition = "escalate"
)

func (k Kind) Disposition() Disposition {
	switch k {
	case KindPhaseViolation:
		return RetryLater
	case KindAccessDenied:
		return Escalate
	default:
		return NeverRetry
	}
}

// Error is a terminal rejection of a single ledger operation. No state is
// committed when an operation returns an *Error.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
}

func (e *Error) Error() string {
	label := e.Code
	if label == "" {
		label = e.Kind.String()
	}
	if e.Detail == "" {
		return label
	}
	return label + ": " + e.Detail
}

// Is matches sentinels by code, or by kind when the sentinel has no code, so both
// errors.Is(err, ErrConflict) and errors.Is(err, ErrAlreadyFinalized) hold.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// Kind sentinels.
var (
	ErrAccessDenied   = &Error{Kind: KindAccessDenied}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrPhaseViolation = &Error{Kind: KindPhaseViolation}
	ErrValidation     = &Error{Kind: KindValidation}
)

// Code sentinels.
var (
	ErrNotOwner       = &Error{Kind: KindAccessDenied, Code: "not_owner"}
	ErrNotWhitelisted = &Error{Kind: KindAccessDenied, Code: "not_whitelisted"}
	ErrNotRecorder    = &Error{Kind: KindAccessDenied, Code: "not_recorder"}

	ErrUnknownAuction = &Error{Kind: KindNotFound, Code: "unknown_auction"}
	ErrNoCommitment   = &Error{Kind: KindNotFound, Code: "no_commitment"}
	ErrNoPayment      = &Error{Kind: KindNotFound, Code: "no_payment"}

	ErrAlreadyExists    = &Error{Kind: KindConflict, Code: "already_exists"}
	ErrAlreadyRevealed  = &Error{Kind: KindConflict, Code: "already_revealed"}
	ErrAlreadyFinalized = &Error{Kind: KindConflict, Code: "already_finalized"}
	ErrAlreadyRecorded  = &Error{Kind: KindConflict, Code: "already_recorded"}

	ErrWrongPhase = &Error{Kind: KindPhaseViolation, Code: "wrong_phase"}
	ErrNotReady   = &Error{Kind: KindPhaseViolation, Code: "not_ready"}

	ErrProofMismatch    = &Error{Kind: KindValidation, Code: "proof_mismatch"}
	ErrCapacityExceeded = &Error{Kind: KindValidation, Code: "capacity_exceeded"}
	ErrInvalidAmount    = &Error{Kind: KindValidation, Code: "invalid_amount"}
	ErrNullWinner       = &Error{Kind: KindValidation, Code: "null_winner"}
	ErrMalformedInput   = &Error{Kind: KindValidation, Code: "malformed_input"}
)

// Errorf returns a new *Error with the sentinel's kind and code.
func Errorf(sentinel *Error, format string, args ...any) error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of a ledger rejection. ok is false for infrastructure
// errors that carry no kind.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// CodeOf returns the rejection code, or "" when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
