// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrFutureSigTime indicates a message carried a signing time too far
	// in the future.
	ErrFutureSigTime ErrorCode = iota

	// ErrBadProtocolVersion indicates a masternode advertised a protocol
	// version below the required minimum.
	ErrBadProtocolVersion

	// ErrBadKey indicates a malformed public key in an announce.
	ErrBadKey

	// ErrBadSignature indicates a signature failed verification.
	ErrBadSignature

	// ErrBadAddr indicates an announced service address is unusable for
	// the active network.
	ErrBadAddr

	// ErrCollateralUnconfirmed indicates the collateral output exists but
	// does not yet have enough confirmations.
	ErrCollateralUnconfirmed

	// ErrCollateralSpent indicates the collateral output does not exist
	// or has been spent.
	ErrCollateralSpent

	// ErrStalePing indicates a ping that is not newer than the stored one.
	ErrStalePing

	// ErrOutdated indicates an announce older than the registry record.
	ErrOutdated

	// ErrNotSynced indicates the operation needs sync state that is not
	// available yet.  It never carries a ban score.
	ErrNotSynced

	// ErrUnknownBlock indicates a referenced block is not known to the
	// chain.  It never carries a ban score.
	ErrUnknownBlock
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrFutureSigTime:         "ErrFutureSigTime",
	ErrBadProtocolVersion:    "ErrBadProtocolVersion",
	ErrBadKey:                "ErrBadKey",
	ErrBadSignature:          "ErrBadSignature",
	ErrBadAddr:               "ErrBadAddr",
	ErrCollateralUnconfirmed: "ErrCollateralUnconfirmed",
	ErrCollateralSpent:       "ErrCollateralSpent",
	ErrStalePing:             "ErrStalePing",
	ErrOutdated:              "ErrOutdated",
	ErrNotSynced:             "ErrNotSynced",
	ErrUnknownBlock:          "ErrUnknownBlock",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation in an inbound masternode message.
// It carries the misbehavior score the peer that relayed the message should
// be charged; a zero score marks a transient failure that must not be
// penalized.  It is used to indicate that processing of a message failed due
// to one of the many validation rules rather than an unexpected condition.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	BanScore    int32     // Misbehavior score for the relaying peer
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, score int32, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc, BanScore: score}
}

// extractBanScore returns the misbehavior score carried by the passed error,
// or 0 if the error is nil or not a RuleError.
func extractBanScore(err error) int32 {
	if err == nil {
		return 0
	}
	if rerr, ok := err.(RuleError); ok {
		return rerr.BanScore
	}
	return 0
}
