package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of user-actionable failure categories. Every error
// leaving a component is one of these; callers never see raw transport errors.
type Kind string

const (
	KindWallet     Kind = "wallet"
	KindToken      Kind = "token"
	KindOffer      Kind = "offer"
	KindTrade      Kind = "trade"
	KindPrice      Kind = "price"
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// Error is a typed error carrying a human-readable message and an optional
// underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err if it is (or wraps) an *Error, and
// KindUnknown otherwise.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Recognizable substrings in ledger RPC failures. The RPC layer reports
// program and account errors as free-form strings, so classification is by
// substring match.
var patterns = []struct {
	substr  string
	kind    Kind
	message string
}{
	{"insufficient funds", KindToken, "insufficient token balance"},
	{"insufficient lamports", KindWallet, "insufficient balance to pay fees"},
	{"could not find account", KindToken, "token account does not exist"},
	{"invalid account owner", KindToken, "token account has an invalid owner"},
	{"signature verification failure", KindWallet, "transaction signature rejected"},
	{"blockhash not found", KindWallet, "transaction expired before confirmation"},
	{"InvalidTradeStatus", KindTrade, "trade is not in a valid status for this operation"},
	{"UnauthorizedTrader", KindTrade, "caller is not a party to this trade"},
	{"UnauthorizedDisputer", KindTrade, "only the maker or taker may dispute"},
	{"UnauthorizedDepositor", KindTrade, "only the maker may fund this trade's escrow"},
	{"InvalidStatus", KindOffer, "offer is not in a valid status for this operation"},
	{"InvalidAmounts", KindOffer, "offer amount configuration is invalid"},
	{"InvalidPrice", KindOffer, "offer price must be greater than zero"},
}

// Translate is the single chokepoint mapping an arbitrary failure onto the
// closed kind set. Recognized ledger failure patterns override the fallback
// kind; account-not-found and anything else unrecognized keep the fallback so
// the caller's domain context (offer vs trade) is preserved. A nil error
// translates to nil.
func Translate(fallback Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		// Already classified by a lower layer; keep the original kind.
		return appErr
	}

	text := err.Error()
	for _, p := range patterns {
		if strings.Contains(text, p.substr) {
			return &Error{Kind: p.kind, Message: p.message, Err: err}
		}
	}

	if strings.Contains(text, "AccountNotFound") || strings.Contains(text, "not found") {
		return &Error{Kind: fallback, Message: message + ": account not found", Err: err}
	}

	if fallback == "" {
		fallback = KindUnknown
	}
	return &Error{Kind: fallback, Message: message, Err: err}
}
