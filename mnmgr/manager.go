// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"

	"github.com/zocsuite/zocd/chaincfg"
	"github.com/zocsuite/zocd/wire"
)

const (
	// misbehaviorDSegAbuse is the penalty for asking for the full list
	// again within the pacing window on mainnet.
	misbehaviorDSegAbuse = 34

	// misbehaviorReplySpam is the penalty for verification reply spam and
	// for replies we never asked for.
	misbehaviorReplySpam = 2

	// misbehaviorNonceMismatch is the penalty for a verification reply
	// whose nonce or height does not match the outstanding challenge.
	misbehaviorNonceMismatch = 20

	// misbehaviorFakeSig is the penalty for a verification reply no known
	// masternode key can account for.
	misbehaviorFakeSig = 40

	// misbehaviorSelfVerify is the penalty for relaying a verification
	// broadcast in which a masternode vouches for itself.
	misbehaviorSelfVerify = 100

	// misbehaviorUnreachable is the penalty applied to a peer that failed
	// to serve a pending request in time.
	misbehaviorUnreachable = 20

	// mnbRecoveryQuorumTotal is how many top-ranked masternodes are asked
	// to confirm a masternode stuck in NewStartRequired.
	mnbRecoveryQuorumTotal = 10

	// mnbRecoveryQuorumRequired is how many positive replies revive such
	// a masternode.
	mnbRecoveryQuorumRequired = 6

	// mnbRecoveryMaxAskEntries bounds how many recoveries are initiated
	// per housekeeping sweep.
	mnbRecoveryMaxAskEntries = 10

	// mnbRecoveryWait is how long replies to a recovery round are
	// collected before they are tallied.
	mnbRecoveryWait = 60 * time.Second

	// mnbRecoveryRetry is how long a tallied recovery round blocks a new
	// round for the same masternode.
	mnbRecoveryRetry = 3 * time.Hour

	// pendingRequestTimeout is how long a scheduled outbound connection
	// may sit unserved before it is dropped.  A dropped verification
	// challenge also costs its target ban score.
	pendingRequestTimeout = 15 * time.Second

	// relayedInvLimit is the number of recently relayed inventory hashes
	// remembered to avoid re-relaying the same item in a tight window.
	relayedInvLimit = 5000

	// fulfilledVerifyRequest, fulfilledVerifyReply and fulfilledVerifyDone
	// name the fulfilled-request markers of the verification protocol.
	fulfilledVerifyRequest = "mnv-request"
	fulfilledVerifyReply   = "mnv-reply"
	fulfilledVerifyDone    = "mnv-done"
)

// Config is a configuration struct used to initialize a new Manager.  Every
// collaborator is injected here; the manager keeps no ambient globals.
type Config struct {
	// ChainParams identifies the network the manager operates on.
	ChainParams *chaincfg.Params

	// Chain provides block hashes, collateral confirmations and the tip.
	Chain Chain

	// ConnMgr provides access to connected peers and outbound scheduling.
	ConnMgr ConnManager

	// Sync reports which parts of the initial sync are complete.
	Sync SyncTracker

	// Signer implements both masternode signature schemes.
	Signer Signer

	// ActiveMasternode describes the local masternode, or nil when this
	// node does not run as one.
	ActiveMasternode ActiveMasternode

	// Payments exposes the payment schedule.
	Payments Payments

	// Governance is notified when the registry changes.
	Governance Governance

	// PeerSink applies misbehavior scores to peers.
	PeerSink MisbehaviorSink

	// Alerter surfaces user-visible warnings.  May be nil.
	Alerter Alerter

	// Health reports unreachable masternode addresses.  May be nil.
	Health HealthMonitor

	// TimeSource provides network-adjusted time.
	TimeSource TimeSource

	// NewSigs selects the hash signing scheme instead of the legacy
	// string-canonicalized one.
	NewSigs bool

	// DaemonVersion is the local daemon version, used by the update
	// warning.
	DaemonVersion uint32

	// DisableRecovery turns off automatic recovery requests, mirroring
	// nodes running with a fixed -connect set.
	DisableRecovery bool
}

// seenAnnounce pairs a seen announce with the time it was first seen, which
// the recovery path uses to decide whether a re-delivery still counts as
// fresh.
type seenAnnounce struct {
	firstSeen time.Time
	announce  *wire.MsgMNAnnounce
}

// recoveryRequest tracks one recovery round for a masternode: the deadline
// replies are collected until and the peers that were asked.
type recoveryRequest struct {
	deadline time.Time
	asked    map[string]struct{}
}

// scheduledRequest is one queued outbound announce fetch.
type scheduledRequest struct {
	addr wire.NetAddress
	hash chainhash.Hash
}

// pendingFetch tracks an outbound connection that was scheduled but not yet
// served with its getdata.
type pendingFetch struct {
	added  time.Time
	addr   wire.NetAddress
	hashes map[chainhash.Hash]struct{}
}

// pendingVerification tracks an outbound verification challenge that has not
// been pushed to its target yet.
type pendingVerification struct {
	added time.Time
	addr  wire.NetAddress
	mnv   *wire.MsgMNVerify
}

// Manager is the masternode manager.  It owns the registry, the pacing
// tables and the verification state, and is safe for concurrent access.
//
// Lock order is chain first, then the registry mutex, then the
// pending-verification mutex.  Methods that need both chain state and the
// registry fetch from the chain before taking the registry lock; no method
// performs blocking I/O while holding either lock.
type Manager struct {
	cfg Config

	mtx sync.Mutex

	masternodes map[wire.OutPoint]*Masternode

	// Pacing tables.  Address-keyed tables use the squashed key (port
	// zeroed unless the network allows multiple nodes per host).
	askedUsForList  map[string]time.Time
	weAskedForList  map[string]time.Time
	weAskedForEntry map[wire.OutPoint]map[string]time.Time

	// weAskedForVerification tracks the nonce and height of outstanding
	// challenges keyed by the full responder address.
	weAskedForVerification map[string]*wire.MsgMNVerify

	seenBroadcast    map[chainhash.Hash]*seenAnnounce
	seenPing         map[chainhash.Hash]*wire.MsgMNPing
	seenVerification map[chainhash.Hash]*wire.MsgMNVerify

	mnbRecoveryRequests    map[chainhash.Hash]*recoveryRequest
	mnbRecoveryGoodReplies map[chainhash.Hash][]*wire.MsgMNAnnounce
	scheduledMnbRequests   []scheduledRequest
	pendingMnb             map[string]*pendingFetch

	// shouldAskForVerification holds survivors of the duplicate-IP sweep
	// that are owed a direct re-verification.
	shouldAskForVerification map[wire.OutPoint]time.Time

	// fulfilled is the fulfilled-request table: address key to request
	// name to expiry.
	fulfilled map[string]map[string]time.Time

	masternodesAdded     bool
	masternodesRemoved   bool
	dirtyGovernanceVotes []chainhash.Hash

	lastSentinelPingTime time.Time
	dsqCount             uint64

	lastPaidRunHeight  int32
	warnedDaemonUpdate bool

	// cachedBlockHeight is the tip height last reported by the block-tip
	// listener.  Accessed atomically so read-only paths need no lock.
	cachedBlockHeight int32

	// relayedInv remembers recently relayed inventory hashes so a burst
	// of identical updates is pushed to peers only once.
	relayedInv lru.Cache

	pendingMnvMtx sync.Mutex
	pendingMnv    map[string]*pendingVerification

	// timeNow is the clock; overridden by tests.
	timeNow func() time.Time

	wg       sync.WaitGroup
	quit     chan struct{}
	started  int32
	shutdown int32
}

// New returns a new masternode manager for the provided configuration.
func New(cfg *Config) *Manager {
	return &Manager{
		cfg:                      *cfg,
		masternodes:              make(map[wire.OutPoint]*Masternode),
		askedUsForList:           make(map[string]time.Time),
		weAskedForList:           make(map[string]time.Time),
		weAskedForEntry:          make(map[wire.OutPoint]map[string]time.Time),
		weAskedForVerification:   make(map[string]*wire.MsgMNVerify),
		seenBroadcast:            make(map[chainhash.Hash]*seenAnnounce),
		seenPing:                 make(map[chainhash.Hash]*wire.MsgMNPing),
		seenVerification:         make(map[chainhash.Hash]*wire.MsgMNVerify),
		mnbRecoveryRequests:      make(map[chainhash.Hash]*recoveryRequest),
		mnbRecoveryGoodReplies:   make(map[chainhash.Hash][]*wire.MsgMNAnnounce),
		pendingMnb:               make(map[string]*pendingFetch),
		shouldAskForVerification: make(map[wire.OutPoint]time.Time),
		fulfilled:                make(map[string]map[string]time.Time),
		pendingMnv:               make(map[string]*pendingVerification),
		relayedInv:               lru.NewCache(relayedInvLimit),
		timeNow:                  time.Now,
		quit:                     make(chan struct{}),
	}
}

// now returns the current time according to the manager's clock.
func (m *Manager) now() time.Time {
	return m.timeNow()
}

// activeOutpoint returns the local masternode outpoint, or a null outpoint
// when this node is not an active masternode.
func (m *Manager) activeOutpoint() wire.OutPoint {
	if m.cfg.ActiveMasternode == nil {
		return wire.OutPoint{}
	}
	return m.cfg.ActiveMasternode.Outpoint()
}

// activeService returns the local masternode service address, or nil.
func (m *Manager) activeService() *wire.NetAddress {
	if m.cfg.ActiveMasternode == nil {
		return nil
	}
	return m.cfg.ActiveMasternode.Service()
}

// squashedKey returns the pacing key for the passed address under the active
// network's multiple-ports policy.
func (m *Manager) squashedKey(na *wire.NetAddress) string {
	return na.SquashedKey(m.cfg.ChainParams.AllowMultiplePorts)
}

// CachedBlockHeight returns the tip height last seen by the block-tip
// listener.
func (m *Manager) CachedBlockHeight() int32 {
	return atomic.LoadInt32(&m.cachedBlockHeight)
}

// Count returns the number of registry records meeting the minimum protocol
// version.  A zero minProtocol means the payments minimum.
func (m *Manager) Count(minProtocol uint32) int {
	if minProtocol == 0 {
		minProtocol = m.cfg.Payments.MinProtoVersion()
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	count := 0
	for _, mn := range m.masternodes {
		if mn.ProtocolVersion >= minProtocol {
			count++
		}
	}
	return count
}

// CountEnabled returns the number of enabled records meeting the minimum
// protocol version.  A zero minProtocol means the payments minimum.
func (m *Manager) CountEnabled(minProtocol uint32) int {
	if minProtocol == 0 {
		minProtocol = m.cfg.Payments.MinProtoVersion()
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.countEnabledLocked(minProtocol)
}

// countEnabledLocked implements CountEnabled.
//
// This function MUST be called with the registry lock held.
func (m *Manager) countEnabledLocked(minProtocol uint32) int {
	count := 0
	for _, mn := range m.masternodes {
		if mn.ProtocolVersion >= minProtocol && mn.IsEnabled() {
			count++
		}
	}
	return count
}

// CountByIP returns how many records advertise each address family.
func (m *Manager) CountByIP() (ipv4, ipv6, onion int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, mn := range m.masternodes {
		switch {
		case mn.Addr.IsOnion():
			onion++
		case mn.Addr.IsIPv4():
			ipv4++
		default:
			ipv6++
		}
	}
	return
}

// Add inserts a new record into the registry.  It fails when a record with
// the same outpoint or, among non-banned records, the same service address
// already exists.
func (m *Manager) Add(mn *Masternode) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.addLocked(mn)
}

// addLocked implements Add.
//
// This function MUST be called with the registry lock held.
func (m *Manager) addLocked(mn *Masternode) bool {
	if _, ok := m.masternodes[mn.Outpoint]; ok {
		return false
	}
	if m.hasAddrLocked(&mn.Addr) {
		return false
	}

	log.Debugf("Adding new masternode: addr=%s, %d now", mn.Addr.Key(),
		len(m.masternodes)+1)
	m.masternodes[mn.Outpoint] = mn
	m.masternodesAdded = true
	return true
}

// Has returns whether the registry holds a record for the outpoint.
func (m *Manager) Has(outpoint wire.OutPoint) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	_, ok := m.masternodes[outpoint]
	return ok
}

// HasAddr returns whether any non-banned record advertises the address.
func (m *Manager) HasAddr(addr *wire.NetAddress) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.hasAddrLocked(addr)
}

// hasAddrLocked implements HasAddr.
//
// This function MUST be called with the registry lock held.
func (m *Manager) hasAddrLocked(addr *wire.NetAddress) bool {
	for _, mn := range m.masternodes {
		if mn.IsPoSeBanned() {
			continue
		}
		if mn.Addr.Equal(addr) {
			return true
		}
	}
	return false
}

// Get returns a copy of the record for the outpoint.
func (m *Manager) Get(outpoint wire.OutPoint) (Masternode, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return Masternode{}, false
	}
	return *mn, true
}

// GetInfo returns a snapshot of the record for the outpoint.
func (m *Manager) GetInfo(outpoint wire.OutPoint) (*Info, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return nil, false
	}
	return mn.Info(), true
}

// GetInfoByPubKey returns a snapshot of the record with the passed
// masternode public key.
func (m *Manager) GetInfoByPubKey(pubKeyMasternode []byte) (*Info, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, mn := range m.masternodes {
		if bytes.Equal(mn.PubKeyMasternode, pubKeyMasternode) {
			return mn.Info(), true
		}
	}
	return nil, false
}

// GetInfoByPayee returns a snapshot of the record whose collateral key
// hashes to the passed pubkey hash, which is how payment scripts identify a
// masternode.
func (m *Manager) GetInfoByPayee(pubKeyHash []byte) (*Info, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, mn := range m.masternodes {
		if bytes.Equal(btcutil.Hash160(mn.PubKeyCollateral), pubKeyHash) {
			return mn.Info(), true
		}
	}
	return nil, false
}

// AllowMixing marks the masternode as accepting mixing transactions and
// stamps it with the next mixing-queue sequence number, establishing a total
// order of mixing announcements.
func (m *Manager) AllowMixing(outpoint wire.OutPoint) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return false
	}
	m.dsqCount++
	mn.LastDsq = m.dsqCount
	mn.AllowMixingTx = true
	return true
}

// DisallowMixing clears the mixing flag on the masternode.
func (m *Manager) DisallowMixing(outpoint wire.OutPoint) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return false
	}
	mn.AllowMixingTx = false
	return true
}

// DsqCount returns the current mixing-queue sequence number.
func (m *Manager) DsqCount() uint64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.dsqCount
}

// IncreasePoSeBanScore raises the ban score of the record for the outpoint.
// The local masternode is never mutated through this entry point.
func (m *Manager) IncreasePoSeBanScore(outpoint wire.OutPoint) bool {
	if outpoint == m.activeOutpoint() {
		return false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.increasePoSeBanScoreLocked(outpoint)
}

// increasePoSeBanScoreLocked implements IncreasePoSeBanScore.
//
// This function MUST be called with the registry lock held.
func (m *Manager) increasePoSeBanScoreLocked(outpoint wire.OutPoint) bool {
	if outpoint == m.activeOutpoint() {
		return false
	}
	mn, ok := m.masternodes[outpoint]
	if !ok {
		return false
	}
	mn.IncreasePoSeBanScore()
	return true
}

// DecreasePoSeBanScore lowers the ban score of the record for the outpoint.
// The local masternode is never mutated through this entry point.
func (m *Manager) DecreasePoSeBanScore(outpoint wire.OutPoint) bool {
	if outpoint == m.activeOutpoint() {
		return false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return false
	}
	mn.DecreasePoSeBanScore()
	return true
}

// PoSeBan moves the record for the outpoint straight into the terminal
// PoSeBanned state.  The local masternode is never banned through this entry
// point.
func (m *Manager) PoSeBan(outpoint wire.OutPoint) bool {
	if outpoint == m.activeOutpoint() {
		return false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return false
	}
	mn.PoSeBan()
	return true
}

// IncreasePoSeBanScoreByAddr raises the ban score of every record
// advertising the address.  The local masternode's address is exempt.
func (m *Manager) IncreasePoSeBanScoreByAddr(addr *wire.NetAddress) bool {
	if svc := m.activeService(); svc != nil && svc.Equal(addr) {
		return false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.increasePoSeBanScoreByAddrLocked(addr)
}

// increasePoSeBanScoreByAddrLocked implements IncreasePoSeBanScoreByAddr.
//
// This function MUST be called with the registry lock held.
func (m *Manager) increasePoSeBanScoreByAddrLocked(addr *wire.NetAddress) bool {
	found := false
	active := m.activeOutpoint()
	for _, mn := range m.masternodes {
		if mn.Outpoint == active || !mn.Addr.Equal(addr) {
			continue
		}
		mn.IncreasePoSeBanScore()
		found = true
	}
	return found
}

// DecreasePoSeBanScoreByAddr lowers the ban score of every record
// advertising the address.  The local masternode's address is exempt.
func (m *Manager) DecreasePoSeBanScoreByAddr(addr *wire.NetAddress) bool {
	if svc := m.activeService(); svc != nil && svc.Equal(addr) {
		return false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	found := false
	active := m.activeOutpoint()
	for _, mn := range m.masternodes {
		if mn.Outpoint == active || !mn.Addr.Equal(addr) {
			continue
		}
		mn.DecreasePoSeBanScore()
		found = true
	}
	return found
}

// PoSeBanByAddr bans every record advertising the address.  The local
// masternode's address is exempt.
func (m *Manager) PoSeBanByAddr(addr *wire.NetAddress) bool {
	if svc := m.activeService(); svc != nil && svc.Equal(addr) {
		return false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	found := false
	active := m.activeOutpoint()
	for _, mn := range m.masternodes {
		if mn.Outpoint == active || !mn.Addr.Equal(addr) {
			continue
		}
		mn.PoSeBan()
		found = true
	}
	return found
}

// AddGovernanceVote attaches a governance object hash to the record for the
// outpoint.
func (m *Manager) AddGovernanceVote(outpoint wire.OutPoint, hash chainhash.Hash) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return false
	}
	mn.AddGovernanceVote(hash)
	return true
}

// RemoveGovernanceObject detaches a governance object hash from every
// record.
func (m *Manager) RemoveGovernanceObject(hash chainhash.Hash) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, mn := range m.masternodes {
		mn.RemoveGovernanceObject(hash)
	}
}

// SetMasternodeLastPing force-installs a ping on the record for the
// outpoint.  It is used by the local active-masternode machinery, which
// produces its own pings rather than receiving them from the network.
func (m *Manager) SetMasternodeLastPing(outpoint wire.OutPoint, mnp *wire.MsgMNPing) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return
	}
	if mn.LastPing.SigTime >= mnp.SigTime {
		return
	}
	m.setLastPingLocked(mn, mnp)
}

// IsMasternodePingedWithin returns whether the record for the outpoint has a
// ping no older than age at the passed point in time.  A zero time means
// now.
func (m *Manager) IsMasternodePingedWithin(outpoint wire.OutPoint, age time.Duration, at time.Time) bool {
	if at.IsZero() {
		at = m.now()
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.masternodes[outpoint]
	if !ok {
		return false
	}
	return mn.IsPingedWithin(age, at)
}

// UpdateLastSentinelPingTime refreshes the sentinel watermark.
func (m *Manager) UpdateLastSentinelPingTime() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.lastSentinelPingTime = m.now()
}

// IsSentinelPingActive returns whether any masternode vouched for a current
// sentinel recently enough.
func (m *Manager) IsSentinelPingActive() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.isSentinelPingActiveLocked()
}

// isSentinelPingActiveLocked implements IsSentinelPingActive.
//
// This function MUST be called with the registry lock held.
func (m *Manager) isSentinelPingActiveLocked() bool {
	if m.lastSentinelPingTime.IsZero() {
		return false
	}
	return m.now().Sub(m.lastSentinelPingTime) <= sentinelPingMaxAge
}

// Clear empties the registry, the list and entry pacing tables and the seen
// announce and ping tables, and resets the dsq counter and the sentinel ping
// time.  Verification and recovery bookkeeping is left as it is.
func (m *Manager) Clear() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.masternodes = make(map[wire.OutPoint]*Masternode)
	m.askedUsForList = make(map[string]time.Time)
	m.weAskedForList = make(map[string]time.Time)
	m.weAskedForEntry = make(map[wire.OutPoint]map[string]time.Time)
	m.seenBroadcast = make(map[chainhash.Hash]*seenAnnounce)
	m.seenPing = make(map[chainhash.Hash]*wire.MsgMNPing)
	m.dsqCount = 0
	m.lastSentinelPingTime = time.Time{}
}

// String returns a one-line summary of the manager state.
func (m *Manager) String() string {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.stringLocked()
}

// hasFulfilledLocked returns whether the named request is marked fulfilled
// for the address.
//
// This function MUST be called with the registry lock held.
func (m *Manager) hasFulfilledLocked(addrKey, name string) bool {
	reqs, ok := m.fulfilled[addrKey]
	if !ok {
		return false
	}
	expiry, ok := reqs[name]
	return ok && m.now().Before(expiry)
}

// addFulfilledLocked marks the named request fulfilled for the address until
// the network's fulfilled-request expiry.
//
// This function MUST be called with the registry lock held.
func (m *Manager) addFulfilledLocked(addrKey, name string) {
	reqs, ok := m.fulfilled[addrKey]
	if !ok {
		reqs = make(map[string]time.Time)
		m.fulfilled[addrKey] = reqs
	}
	reqs[name] = m.now().Add(m.cfg.ChainParams.FulfilledRequestExpireTime)
}

// punishNode applies the unreachable penalty to the connected peer with the
// passed address, if any.  The local masternode address is exempt.
func (m *Manager) punishNode(addr *wire.NetAddress) {
	if !m.cfg.Sync.IsSynced() {
		return
	}
	if svc := m.activeService(); svc != nil && svc.Equal(addr) {
		return
	}

	m.cfg.ConnMgr.ForNode(addr, func(p Peer) bool {
		log.Infof("Punishing misbehaving node peer=%d addr=%s", p.ID(),
			addr.Key())
		m.cfg.PeerSink.Misbehaving(p.ID(), misbehaviorUnreachable)
		return true
	})
}

// relayInv pushes the passed inventory vector to every connected peer,
// unless the same hash was relayed moments ago.
func (m *Manager) relayInv(invType wire.InvType, hash *chainhash.Hash) {
	if m.relayedInv.Contains(*hash) {
		return
	}
	m.relayedInv.Add(*hash)

	inv := wire.NewInvVect(invType, hash)
	m.cfg.ConnMgr.ForEachNode(func(p Peer) {
		p.PushInventory(inv)
	})
}

// UpdatedBlockTip is the block-tip listener.  It caches the new height, runs
// the duplicate-IP sweep and, when this node is a masternode, refreshes the
// last-paid heights.
func (m *Manager) UpdatedBlockTip(height int32) {
	atomic.StoreInt32(&m.cachedBlockHeight, height)
	log.Debugf("Updated block tip, cachedBlockHeight=%d", height)

	m.CheckSameAddr()

	if m.cfg.ActiveMasternode != nil && !m.activeOutpoint().IsNull() {
		m.UpdateLastPaid()
	}
}

// UpdateLastPaid refreshes every record's last-paid height from the payment
// history.  The scan depth grows with the number of blocks since the
// previous run, bounded by the payments storage limit.
func (m *Manager) UpdateLastPaid() {
	if !m.cfg.Sync.IsWinnersListSynced() {
		return
	}

	height := m.CachedBlockHeight()

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if len(m.masternodes) == 0 {
		return
	}

	maxScanBack := int32(lastPaidScanBlocks)
	if since := height - m.lastPaidRunHeight; since > maxScanBack {
		maxScanBack = since
	}
	if limit := m.cfg.Payments.StorageLimit(); maxScanBack > limit {
		maxScanBack = limit
	}

	for _, mn := range m.masternodes {
		if paid := m.cfg.Payments.LastPaidBlock(mn.Outpoint, maxScanBack); paid > mn.LastPaidBlock {
			mn.LastPaidBlock = paid
		}
	}

	m.lastPaidRunHeight = height
}

// lastPaidScanBlocks is the minimum scan depth of UpdateLastPaid.
const lastPaidScanBlocks = 100

// WarnMasternodeDaemonUpdates raises a one-shot user alert once at least
// half of the known masternodes advertise a daemon version newer than ours.
func (m *Manager) WarnMasternodeDaemonUpdates() {
	if m.cfg.Alerter == nil || !m.cfg.Sync.IsMasternodeListSynced() {
		return
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.warnedDaemonUpdate || len(m.masternodes) == 0 {
		return
	}

	updated := 0
	for _, mn := range m.masternodes {
		if mn.LastPing.DaemonVersion > m.cfg.DaemonVersion {
			updated++
		}
	}
	if 2*updated < len(m.masternodes) {
		return
	}

	var warning string
	if updated != len(m.masternodes) {
		warning = fmt.Sprintf("Warning: At least %d of %d masternodes are "+
			"running on a newer software version. Please check latest "+
			"releases, you might need to update too.", updated,
			len(m.masternodes))
	} else {
		warning = fmt.Sprintf("Warning: Every masternode (out of %d known "+
			"ones) is running on a newer software version. Please check "+
			"latest releases, it's very likely that you missed a "+
			"major/critical update.", len(m.masternodes))
	}

	m.cfg.Alerter.Alert(warning)
	m.warnedDaemonUpdate = true
}

// ProcessMasternodeConnections drops peers flagged as masternode connections
// that the manager no longer needs.  Regtest keeps them for test setups.
func (m *Manager) ProcessMasternodeConnections() {
	if m.cfg.ChainParams.IsRegNet() {
		return
	}

	m.cfg.ConnMgr.ForEachNode(func(p Peer) {
		if p.IsMasternodeConn() {
			log.Infof("Closing masternode connection: peer=%d, addr=%s",
				p.ID(), p.NA().Key())
			p.Disconnect()
		}
	})
}

// NotifyMasternodeUpdates informs the governance collaborator about registry
// membership changes and resets the dirty flags.
func (m *Manager) NotifyMasternodeUpdates() {
	m.mtx.Lock()
	added := m.masternodesAdded
	removed := m.masternodesRemoved
	m.mtx.Unlock()

	if added {
		m.cfg.Governance.CheckOrphanObjects()
		m.cfg.Governance.CheckOrphanVotes()
	}
	if removed {
		m.cfg.Governance.UpdateCachesAndClean()
	}

	m.mtx.Lock()
	m.masternodesAdded = false
	m.masternodesRemoved = false
	m.mtx.Unlock()
}

// GetAndClearDirtyGovernanceObjectHashes returns the governance object
// hashes attached to records removed since the last call and resets the
// list.  The governance collaborator polls it during its cleanup pass.
func (m *Manager) GetAndClearDirtyGovernanceObjectHashes() []chainhash.Hash {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	dirty := m.dirtyGovernanceVotes
	m.dirtyGovernanceVotes = nil
	return dirty
}
