// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

// Chain provides the chain state the manager needs: block hash lookup for
// score calculation, collateral confirmation counts and the current tip.
// Implementations are expected to do their own locking; the manager never
// calls into the chain while holding its registry lock.
type Chain interface {
	// BlockHash returns the hash of the main-chain block at the given
	// height, or an error if the height is unknown.
	BlockHash(height int32) (*chainhash.Hash, error)

	// UTXOConfirmations returns the number of confirmations of the passed
	// collateral output.  The second return is false when the output does
	// not exist or has been spent.
	UTXOConfirmations(outpoint *wire.OutPoint) (int32, bool)

	// BestHeight returns the height of the current main-chain tip.
	BestHeight() int32
}

// Peer represents a connected remote peer the manager can push messages and
// inventory to.
type Peer interface {
	// ID returns the peer's unique identifier.
	ID() int32

	// NA returns the peer's network address.
	NA() *wire.NetAddress

	// PushMessage queues the passed message for sending to the peer.
	PushMessage(msg wire.Message)

	// PushInventory queues the passed inventory vector for announcing to
	// the peer, subject to the peer's own filtering.
	PushInventory(inv *wire.InvVect)

	// IsMasternodeConn returns whether this connection was established
	// for masternode duty rather than regular relay.
	IsMasternodeConn() bool

	// Disconnect requests the connection be torn down.
	Disconnect()
}

// ConnManager exposes the subset of the connection manager the masternode
// subsystem relies on.
type ConnManager interface {
	// ForEachNode invokes the callback for every connected peer.
	ForEachNode(f func(Peer))

	// ForNode invokes the callback for the connected peer with the passed
	// address and returns the callback result, or false when no such peer
	// is connected.
	ForNode(addr *wire.NetAddress, f func(Peer) bool) bool

	// AddPendingMasternode schedules an outbound connection to the passed
	// masternode address.
	AddPendingMasternode(addr *wire.NetAddress)

	// IsMasternodeOrDisconnectRequested returns whether the address is
	// already a masternode connection or has a disconnect pending.
	IsMasternodeOrDisconnectRequested(addr *wire.NetAddress) bool

	// AddNewAddress feeds a newly learned address into the address
	// manager, attributed to the peer it was learned from.
	AddNewAddress(addr, from *wire.NetAddress)

	// CheckReachable probes whether a TCP connection to the address can
	// be established within the dial timeout.
	CheckReachable(addr *wire.NetAddress) bool
}

// SyncTracker reports which parts of the initial sync have completed.  The
// manager refuses to serve or act on data it cannot yet trust.
type SyncTracker interface {
	IsBlockchainSynced() bool
	IsMasternodeListSynced() bool
	IsWinnersListSynced() bool
	IsSynced() bool

	// BumpAssetLastTime pushes the sync watchdog forward for the named
	// producer so a slow but live sync is not abandoned.
	BumpAssetLastTime(tag string)
}

// Signer abstracts the signature scheme used by masternode messages.  Two
// families are required: hash signing for new-style signatures and
// string-canonicalized message signing for the legacy scheme.  Which family
// is used for verification traffic is chosen by Config.NewSigs at runtime.
type Signer interface {
	SignHash(hash chainhash.Hash, privKey []byte) ([]byte, error)
	VerifyHash(hash chainhash.Hash, pubKey []byte, sig []byte) error
	SignMessage(msg string, privKey []byte) ([]byte, error)
	VerifyMessage(pubKey []byte, sig []byte, msg string) error
}

// ActiveMasternode describes the local masternode identity, when this node
// is running as one.  Implementations return a null outpoint when the local
// node is not an active masternode.
type ActiveMasternode interface {
	// Outpoint returns the local masternode's collateral outpoint, or a
	// null outpoint when not running as a masternode.
	Outpoint() wire.OutPoint

	// Service returns the address the local masternode advertises.
	Service() *wire.NetAddress

	// PrivKey returns the serialized masternode private key.
	PrivKey() []byte

	// PubKey returns the serialized masternode public key.
	PubKey() []byte

	// ManageState kicks the active-masternode state machine, typically
	// after a remote activation was observed.
	ManageState()
}

// Payments exposes the payment schedule the payee selection consults.
type Payments interface {
	// MinProtoVersion returns the minimum protocol version a masternode
	// must advertise to be eligible for payment.
	MinProtoVersion() uint32

	// IsScheduled returns whether the masternode is already scheduled to
	// be paid within the propagation window ending at the given height.
	IsScheduled(info *Info, height int32) bool

	// StorageLimit returns how many blocks of payment history are kept.
	StorageLimit() int32

	// LastPaidBlock scans up to maxScanBack blocks of payment history and
	// returns the most recent height at which the masternode was paid, or
	// 0 when it was not paid within the scanned range.
	LastPaidBlock(outpoint wire.OutPoint, maxScanBack int32) int32
}

// Governance receives notifications when the registry changes so orphaned
// governance objects and votes can be reconsidered.
type Governance interface {
	CheckOrphanObjects()
	CheckOrphanVotes()
	UpdateCachesAndClean()
}

// MisbehaviorSink applies misbehavior scores to peers.  Reaching the
// implementation's threshold typically disconnects and bans the peer.
type MisbehaviorSink interface {
	Misbehaving(peerID int32, score int32)
}

// Alerter surfaces user-visible warnings, such as the daemon-update notice.
type Alerter interface {
	Alert(msg string)
}

// ReachabilityClass is an opaque code an external health monitor assigns to
// a masternode address.  The manager does not interpret individual values
// beyond membership in the unreachable set the monitor defines.
type ReachabilityClass int

// HealthMonitor reports addresses an external prober found unhealthy.
type HealthMonitor interface {
	// MissingMasternodes returns the currently known unhealthy addresses
	// keyed by address (host:port) with their reachability class.
	MissingMasternodes() map[string]ReachabilityClass

	// Forget drops the health record for the passed address key.
	Forget(addrKey string)
}

// TimeSource provides network-adjusted time, which the sigTime freshness
// checks use instead of the local clock.
type TimeSource interface {
	AdjustedTime() time.Time
}
