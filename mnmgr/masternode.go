// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

const (
	// minAnnounceAge is how long a masternode stays in PreEnabled after
	// its announce before it can be considered Enabled.
	minAnnounceAge = 5 * time.Minute

	// minPingInterval is the minimum interval between pings of a single
	// masternode.  It also bounds how close to the new-start deadline a
	// re-delivered announce still refreshes the seen table.
	minPingInterval = 10 * time.Minute

	// expirationAge is how long a masternode may go without an accepted
	// ping before it is considered Expired.
	expirationAge = 65 * time.Minute

	// newStartRequiredAge is how long a masternode may go without an
	// accepted ping before only a fresh announce can revive it.
	newStartRequiredAge = 180 * time.Minute

	// sentinelPingMaxAge is how recent the latest sentinel-flagged ping
	// must be for the sentinel to be considered active network-wide.
	sentinelPingMaxAge = 120 * time.Minute

	// checkInterval rate-limits per-record state checks.
	checkInterval = 5 * time.Second

	// maxFutureSigTime is how far into the future a signing time may be
	// before the message is rejected.
	maxFutureSigTime = time.Hour

	// PoSeBanMaxScore is the ban score at which a masternode transitions
	// into the terminal PoSeBanned state.  Scores are clamped to
	// [-PoSeBanMaxScore, PoSeBanMaxScore].
	PoSeBanMaxScore = 5
)

// ActiveState describes the liveness state of a masternode record.
type ActiveState int32

// The possible states of a masternode record.  OutpointSpent, UpdateRequired
// and PoSeBanned are terminal: the housekeeping sweep removes records in
// those states.
const (
	StatePreEnabled ActiveState = iota
	StateEnabled
	StateExpired
	StateSentinelPingExpired
	StateNewStartRequired
	StateOutpointSpent
	StateUpdateRequired
	StatePoSeBanned
)

// Map of ActiveState values back to their constant names for pretty
// printing.
var stateStrings = map[ActiveState]string{
	StatePreEnabled:          "PRE_ENABLED",
	StateEnabled:             "ENABLED",
	StateExpired:             "EXPIRED",
	StateSentinelPingExpired: "SENTINEL_PING_EXPIRED",
	StateNewStartRequired:    "NEW_START_REQUIRED",
	StateOutpointSpent:       "OUTPOINT_SPENT",
	StateUpdateRequired:      "UPDATE_REQUIRED",
	StatePoSeBanned:          "POSE_BAN",
}

// String returns the ActiveState in human-readable form.
func (s ActiveState) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("UNKNOWN_STATE_%d", int32(s))
}

// Masternode is a single registry record: the collateral identity of a
// masternode together with everything the node has learned about it.  All
// fields are protected by the manager's registry lock; records are never
// handed out by reference.
type Masternode struct {
	Outpoint         wire.OutPoint
	Addr             wire.NetAddress
	PubKeyCollateral []byte
	PubKeyMasternode []byte
	SigTime          int64
	ProtocolVersion  uint32
	State            ActiveState

	// LastPing is the most recent accepted ping.  A zero SigTime means no
	// ping has been accepted yet.
	LastPing wire.MsgMNPing

	// LastPaidBlock is the most recent height this masternode received a
	// payment, or 0 if unknown.
	LastPaidBlock int32

	// PoSeBanScore is clamped to [-PoSeBanMaxScore, PoSeBanMaxScore].
	// Reaching the maximum transitions the record to PoSeBanned.
	PoSeBanScore int32

	AllowMixingTx bool
	LastDsq       uint64

	// GovernanceVotes holds the hashes of governance objects this
	// masternode has voted on, so they can be flagged dirty on removal.
	GovernanceVotes map[chainhash.Hash]struct{}

	// lastChecked rate-limits the per-record state check.
	lastChecked time.Time
}

// newMasternodeFromAnnounce builds a registry record from a validated
// announce.
func newMasternodeFromAnnounce(mnb *wire.MsgMNAnnounce) *Masternode {
	return &Masternode{
		Outpoint:         mnb.Outpoint,
		Addr:             mnb.Service,
		PubKeyCollateral: append([]byte(nil), mnb.PubKeyCollateral...),
		PubKeyMasternode: append([]byte(nil), mnb.PubKeyMasternode...),
		SigTime:          mnb.SigTime,
		ProtocolVersion:  mnb.ProtocolVersion,
		State:            StatePreEnabled,
		LastPing:         mnb.LastPing,
		GovernanceVotes:  make(map[chainhash.Hash]struct{}),
	}
}

// IsEnabled returns whether the record is in the Enabled state.
func (mn *Masternode) IsEnabled() bool { return mn.State == StateEnabled }

// IsPreEnabled returns whether the record is in the PreEnabled state.
func (mn *Masternode) IsPreEnabled() bool { return mn.State == StatePreEnabled }

// IsPoSeBanned returns whether the record has been banned by
// proof-of-service.
func (mn *Masternode) IsPoSeBanned() bool { return mn.State == StatePoSeBanned }

// IsPoSeVerified returns whether the record's ban score sits at the verified
// floor.
func (mn *Masternode) IsPoSeVerified() bool { return mn.PoSeBanScore <= -PoSeBanMaxScore }

// IsExpired returns whether the record is in the Expired state.
func (mn *Masternode) IsExpired() bool { return mn.State == StateExpired }

// IsNewStartRequired returns whether only a fresh announce can revive the
// record.
func (mn *Masternode) IsNewStartRequired() bool { return mn.State == StateNewStartRequired }

// IsOutpointSpent returns whether the collateral backing the record is gone.
func (mn *Masternode) IsOutpointSpent() bool { return mn.State == StateOutpointSpent }

// IsUpdateRequired returns whether the record advertises a protocol version
// that is no longer accepted.
func (mn *Masternode) IsUpdateRequired() bool { return mn.State == StateUpdateRequired }

// IsSentinelPingExpired returns whether the record's sentinel stopped
// reporting.
func (mn *Masternode) IsSentinelPingExpired() bool { return mn.State == StateSentinelPingExpired }

// IsTerminal returns whether the record is in a state the housekeeping
// sweep removes.
func (mn *Masternode) IsTerminal() bool {
	return mn.IsOutpointSpent() || mn.IsUpdateRequired() || mn.IsPoSeBanned()
}

// IsValidForPayment returns whether the record may be selected as a payee.
func (mn *Masternode) IsValidForPayment() bool {
	if mn.IsEnabled() {
		return true
	}
	// Sentinel hiccups do not cost a masternode its place in the queue.
	return mn.IsSentinelPingExpired()
}

// IsValidStateForAutoStart returns whether a record in the passed state can
// be revived without operator action.  Recovery replies projecting any other
// state are discarded.
func IsValidStateForAutoStart(state ActiveState) bool {
	switch state {
	case StateEnabled, StatePreEnabled, StateExpired, StateSentinelPingExpired:
		return true
	}
	return false
}

// IsPingedWithin returns whether the record's last accepted ping is no older
// than age at the passed point in time.
func (mn *Masternode) IsPingedWithin(age time.Duration, at time.Time) bool {
	if mn.LastPing.SigTime == 0 {
		return false
	}
	return at.Unix()-mn.LastPing.SigTime < int64(age/time.Second)
}

// IncreasePoSeBanScore raises the ban score by one, clamped to
// PoSeBanMaxScore.  Reaching the maximum flips the record into the terminal
// PoSeBanned state.
func (mn *Masternode) IncreasePoSeBanScore() {
	if mn.PoSeBanScore < PoSeBanMaxScore {
		mn.PoSeBanScore++
	}
	if mn.PoSeBanScore >= PoSeBanMaxScore {
		mn.State = StatePoSeBanned
		log.Infof("Masternode %s PoSe banned, score reached %d",
			mn.Outpoint.StringShort(), mn.PoSeBanScore)
	}
}

// DecreasePoSeBanScore lowers the ban score by one, clamped to
// -PoSeBanMaxScore.
func (mn *Masternode) DecreasePoSeBanScore() {
	if mn.PoSeBanScore > -PoSeBanMaxScore {
		mn.PoSeBanScore--
	}
}

// PoSeBan moves the record straight into the terminal PoSeBanned state.
func (mn *Masternode) PoSeBan() {
	mn.State = StatePoSeBanned
}

// AddGovernanceVote records that this masternode voted on the passed
// governance object.
func (mn *Masternode) AddGovernanceVote(hash chainhash.Hash) {
	if mn.GovernanceVotes == nil {
		mn.GovernanceVotes = make(map[chainhash.Hash]struct{})
	}
	mn.GovernanceVotes[hash] = struct{}{}
}

// RemoveGovernanceObject forgets the passed governance object.
func (mn *Masternode) RemoveGovernanceObject(hash chainhash.Hash) {
	delete(mn.GovernanceVotes, hash)
}

// Info returns a value snapshot of the record for callers outside the
// registry lock.
func (mn *Masternode) Info() *Info {
	return &Info{
		Outpoint:         mn.Outpoint,
		Addr:             mn.Addr,
		PubKeyCollateral: append([]byte(nil), mn.PubKeyCollateral...),
		PubKeyMasternode: append([]byte(nil), mn.PubKeyMasternode...),
		SigTime:          mn.SigTime,
		ProtocolVersion:  mn.ProtocolVersion,
		State:            mn.State,
		LastPingTime:     mn.LastPing.SigTime,
		LastPaidBlock:    mn.LastPaidBlock,
	}
}

// Info is an immutable snapshot of a masternode record.
type Info struct {
	Outpoint         wire.OutPoint
	Addr             wire.NetAddress
	PubKeyCollateral []byte
	PubKeyMasternode []byte
	SigTime          int64
	ProtocolVersion  uint32
	State            ActiveState
	LastPingTime     int64
	LastPaidBlock    int32
}

// checkContext carries the state a per-record check needs.  The manager
// builds one per sweep so chain access happens before the registry lock is
// taken.
type checkContext struct {
	now            time.Time
	adjustedTime   time.Time
	minProtocol    uint32
	sentinelActive bool
	ourOutpoint    wire.OutPoint
	collateralGone func(outpoint *wire.OutPoint) bool
	force          bool
}

// check recomputes the record's state.  Unless forced, it is internally
// rate-limited to once per checkInterval per record.
func (mn *Masternode) check(ctx *checkContext) {
	if !ctx.force && ctx.now.Sub(mn.lastChecked) < checkInterval {
		return
	}
	mn.lastChecked = ctx.now

	// Once the backing collateral is gone nothing can revive the record.
	if mn.IsOutpointSpent() {
		return
	}
	if ctx.collateralGone != nil && ctx.collateralGone(&mn.Outpoint) {
		mn.State = StateOutpointSpent
		log.Debugf("Masternode %s collateral spent", mn.Outpoint.StringShort())
		return
	}

	if mn.PoSeBanScore >= PoSeBanMaxScore {
		mn.State = StatePoSeBanned
		return
	}
	if mn.IsPoSeBanned() {
		return
	}

	ours := mn.Outpoint == ctx.ourOutpoint
	if ours && mn.ProtocolVersion < wire.ProtocolVersion {
		mn.State = StateUpdateRequired
		return
	}
	if !ours && mn.ProtocolVersion < ctx.minProtocol {
		mn.State = StateUpdateRequired
		return
	}

	// Own pings do not travel the network, so the liveness windows only
	// apply to remote records.
	if !ours {
		if !mn.IsPingedWithin(newStartRequiredAge, ctx.now) {
			mn.State = StateNewStartRequired
			return
		}
		if !mn.IsPingedWithin(expirationAge, ctx.now) {
			mn.State = StateExpired
			return
		}
		if ctx.sentinelActive && !mn.LastPing.SentinelIsCurrent {
			mn.State = StateSentinelPingExpired
			return
		}
	}

	if ctx.adjustedTime.Unix()-mn.SigTime < int64(minAnnounceAge/time.Second) {
		mn.State = StatePreEnabled
		return
	}
	mn.State = StateEnabled
}

// CalculateScore returns the record's deterministic score against the passed
// block hash.  The score is the double-SHA256 digest of the serialized
// collateral outpoint followed by the block hash; distinct records collide
// only with negligible probability and callers break the remaining ties by
// outpoint order.
func (mn *Masternode) CalculateScore(blockHash *chainhash.Hash) chainhash.Hash {
	return calculateScore(&mn.Outpoint, blockHash)
}

// calculateScore implements CalculateScore for a bare outpoint.
func calculateScore(outpoint *wire.OutPoint, blockHash *chainhash.Hash) chainhash.Hash {
	var buf bytes.Buffer
	_ = wire.WriteOutPoint(&buf, wire.ProtocolVersion, outpoint)
	buf.Write(blockHash[:])
	return chainhash.DoubleHashH(buf.Bytes())
}

// compareScores returns -1, 0 or 1 depending on whether a is a lower, equal
// or higher score than b.  Scores compare as unsigned 256-bit little-endian
// integers: the last byte is the most significant, as in chainhash values.
func compareScores(a, b *chainhash.Hash) int {
	for i := chainhash.HashSize - 1; i >= 0; i-- {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
