// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/chaincfg"
	"github.com/zocsuite/zocd/mnsign"
	"github.com/zocsuite/zocd/wire"
)

// testTime is the fixed wall clock the tests run at.
var testTime = time.Unix(1546300800, 0) // 2019-01-01 00:00:00 UTC

// mockChain implements the Chain interface over fixed maps.
type mockChain struct {
	mtx           sync.Mutex
	hashes        map[int32]chainhash.Hash
	confirmations map[wire.OutPoint]int32
	spent         map[wire.OutPoint]bool
	tip           int32
}

func newMockChain(tip int32) *mockChain {
	return &mockChain{
		hashes:        make(map[int32]chainhash.Hash),
		confirmations: make(map[wire.OutPoint]int32),
		spent:         make(map[wire.OutPoint]bool),
		tip:           tip,
	}
}

// setHash installs a deterministic hash for the given height.
func (c *mockChain) setHash(height int32, seed byte) chainhash.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(height))
	buf[4] = seed
	hash := chainhash.DoubleHashH(buf[:])
	c.mtx.Lock()
	c.hashes[height] = hash
	c.mtx.Unlock()
	return hash
}

func (c *mockChain) BlockHash(height int32) (*chainhash.Hash, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	hash, ok := c.hashes[height]
	if !ok {
		return nil, ruleError(ErrUnknownBlock, 0, "unknown height")
	}
	return &hash, nil
}

func (c *mockChain) UTXOConfirmations(outpoint *wire.OutPoint) (int32, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.spent[*outpoint] {
		return 0, false
	}
	confs, ok := c.confirmations[*outpoint]
	if !ok {
		// Unknown outpoints default to deeply confirmed so tests only
		// opt into collateral failures explicitly.
		return 1 << 20, true
	}
	return confs, true
}

func (c *mockChain) BestHeight() int32 { return c.tip }

// mockPeer implements the Peer interface and records everything pushed to
// it.
type mockPeer struct {
	id         int32
	na         *wire.NetAddress
	mtx        sync.Mutex
	messages   []wire.Message
	inventory  []*wire.InvVect
	masternode bool
	gone       bool
}

func newMockPeer(id int32, addr string) *mockPeer {
	return &mockPeer{id: id, na: naFromString(addr)}
}

func (p *mockPeer) ID() int32             { return p.id }
func (p *mockPeer) NA() *wire.NetAddress  { return p.na }
func (p *mockPeer) IsMasternodeConn() bool { return p.masternode }
func (p *mockPeer) Disconnect()           { p.gone = true }

func (p *mockPeer) PushMessage(msg wire.Message) {
	p.mtx.Lock()
	p.messages = append(p.messages, msg)
	p.mtx.Unlock()
}

func (p *mockPeer) PushInventory(inv *wire.InvVect) {
	p.mtx.Lock()
	p.inventory = append(p.inventory, inv)
	p.mtx.Unlock()
}

func (p *mockPeer) sentMessages() []wire.Message {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]wire.Message(nil), p.messages...)
}

func (p *mockPeer) sentInventory() []*wire.InvVect {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]*wire.InvVect(nil), p.inventory...)
}

// mockConnMgr implements the ConnManager interface over a fixed peer set.
type mockConnMgr struct {
	mtx       sync.Mutex
	peers     []*mockPeer
	pending   []wire.NetAddress
	reachable map[string]bool
}

func newMockConnMgr(peers ...*mockPeer) *mockConnMgr {
	return &mockConnMgr{peers: peers, reachable: make(map[string]bool)}
}

func (cm *mockConnMgr) ForEachNode(f func(Peer)) {
	cm.mtx.Lock()
	peers := append([]*mockPeer(nil), cm.peers...)
	cm.mtx.Unlock()
	for _, p := range peers {
		f(p)
	}
}

func (cm *mockConnMgr) ForNode(addr *wire.NetAddress, f func(Peer) bool) bool {
	cm.mtx.Lock()
	peers := append([]*mockPeer(nil), cm.peers...)
	cm.mtx.Unlock()
	for _, p := range peers {
		if p.na.Equal(addr) {
			return f(p)
		}
	}
	return false
}

func (cm *mockConnMgr) AddPendingMasternode(addr *wire.NetAddress) {
	cm.mtx.Lock()
	cm.pending = append(cm.pending, *addr)
	cm.mtx.Unlock()
}

func (cm *mockConnMgr) IsMasternodeOrDisconnectRequested(*wire.NetAddress) bool {
	return false
}

func (cm *mockConnMgr) AddNewAddress(addr, from *wire.NetAddress) {}

func (cm *mockConnMgr) CheckReachable(addr *wire.NetAddress) bool {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	return cm.reachable[addr.Key()]
}

// mockSync implements the SyncTracker interface with settable flags.
type mockSync struct {
	blockchain bool
	list       bool
	winners    bool
	synced     bool
}

// syncedTracker returns a tracker reporting everything synced.
func syncedTracker() *mockSync {
	return &mockSync{blockchain: true, list: true, winners: true, synced: true}
}

func (s *mockSync) IsBlockchainSynced() bool     { return s.blockchain }
func (s *mockSync) IsMasternodeListSynced() bool { return s.list }
func (s *mockSync) IsWinnersListSynced() bool    { return s.winners }
func (s *mockSync) IsSynced() bool               { return s.synced }
func (s *mockSync) BumpAssetLastTime(tag string) {}

// mockPayments implements the Payments interface.
type mockPayments struct {
	minProto  uint32
	scheduled map[wire.OutPoint]bool
	lastPaid  map[wire.OutPoint]int32
}

func newMockPayments() *mockPayments {
	return &mockPayments{
		minProto:  wire.MinPeerProtoVersion,
		scheduled: make(map[wire.OutPoint]bool),
		lastPaid:  make(map[wire.OutPoint]int32),
	}
}

func (p *mockPayments) MinProtoVersion() uint32 { return p.minProto }
func (p *mockPayments) IsScheduled(info *Info, height int32) bool {
	return p.scheduled[info.Outpoint]
}
func (p *mockPayments) StorageLimit() int32 { return 4000 }
func (p *mockPayments) LastPaidBlock(outpoint wire.OutPoint, maxScanBack int32) int32 {
	return p.lastPaid[outpoint]
}

// mockGovernance implements the Governance interface and counts callbacks.
type mockGovernance struct {
	orphanObjects int
	orphanVotes   int
	cleans        int
}

func (g *mockGovernance) CheckOrphanObjects()   { g.orphanObjects++ }
func (g *mockGovernance) CheckOrphanVotes()     { g.orphanVotes++ }
func (g *mockGovernance) UpdateCachesAndClean() { g.cleans++ }

// misbehaviorRecord is one recorded peer penalty.
type misbehaviorRecord struct {
	peerID int32
	score  int32
}

// mockSink implements the MisbehaviorSink interface and records penalties.
type mockSink struct {
	mtx     sync.Mutex
	records []misbehaviorRecord
}

func (s *mockSink) Misbehaving(peerID int32, score int32) {
	s.mtx.Lock()
	s.records = append(s.records, misbehaviorRecord{peerID, score})
	s.mtx.Unlock()
}

func (s *mockSink) recorded() []misbehaviorRecord {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]misbehaviorRecord(nil), s.records...)
}

// fixedTime implements the TimeSource interface at a fixed instant.
type fixedTime struct {
	at time.Time
}

func (t fixedTime) AdjustedTime() time.Time { return t.at }

// testActive implements the ActiveMasternode interface.
type testActive struct {
	outpoint     wire.OutPoint
	service      wire.NetAddress
	privKey      []byte
	pubKey       []byte
	manageCalled int
}

func (a *testActive) Outpoint() wire.OutPoint   { return a.outpoint }
func (a *testActive) Service() *wire.NetAddress { return &a.service }
func (a *testActive) PrivKey() []byte           { return a.privKey }
func (a *testActive) PubKey() []byte            { return a.pubKey }
func (a *testActive) ManageState()              { a.manageCalled++ }

// testHarness bundles a manager with its mocks.
type testHarness struct {
	mgr      *Manager
	chain    *mockChain
	connMgr  *mockConnMgr
	sync     *mockSync
	payments *mockPayments
	gov      *mockGovernance
	sink     *mockSink
	now      time.Time
}

// harnessOption tweaks the harness configuration before the manager is
// built.
type harnessOption func(*Config)

func withActive(active ActiveMasternode) harnessOption {
	return func(cfg *Config) { cfg.ActiveMasternode = active }
}

func withParams(params *chaincfg.Params) harnessOption {
	return func(cfg *Config) { cfg.ChainParams = params }
}

// newTestHarness builds a manager wired to mocks, running at testTime on
// mainnet parameters with the hash signing scheme.
func newTestHarness(opts ...harnessOption) *testHarness {
	h := &testHarness{
		chain:    newMockChain(1000),
		connMgr:  newMockConnMgr(),
		sync:     syncedTracker(),
		payments: newMockPayments(),
		gov:      &mockGovernance{},
		sink:     &mockSink{},
		now:      testTime,
	}

	cfg := Config{
		ChainParams: &chaincfg.MainNetParams,
		Chain:       h.chain,
		ConnMgr:     h.connMgr,
		Sync:        h.sync,
		Signer:      mnsign.KeySigner{},
		Payments:    h.payments,
		Governance:  h.gov,
		PeerSink:    h.sink,
		TimeSource:  fixedTime{testTime},
		NewSigs:     true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.mgr = New(&cfg)
	h.mgr.timeNow = func() time.Time { return h.now }
	h.mgr.cachedBlockHeight = h.chain.tip
	return h
}

// advance moves the harness clock forward.
func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// naFromString parses a "host:port" string into a NetAddress.
func naFromString(s string) *wire.NetAddress {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		panic(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		panic(err)
	}
	return &wire.NetAddress{
		Services: wire.SFNodeNetwork,
		IP:       net.ParseIP(host),
		Port:     uint16(port),
	}
}

// outpointN returns a deterministic test outpoint.
func outpointN(n byte) wire.OutPoint {
	var hash chainhash.Hash
	hash[0] = n
	hash[31] = 0x7f
	return wire.OutPoint{Hash: hash, Index: uint32(n) % 4}
}

// testKeyPair returns a fresh secp256k1 key pair, failing the test on
// error.
func testKeyPair() (priv, pub []byte) {
	priv, pub, err := mnsign.NewKeyPair()
	if err != nil {
		panic(err)
	}
	return priv, pub
}

// signedAnnounce builds a fully signed announce for the passed identity.
// The embedded ping is signed with the masternode key and stamped sigTime.
func signedAnnounce(outpoint wire.OutPoint, addr string, sigTime int64,
	collateralPriv, collateralPub, mnPriv, mnPub []byte,
	pingBlockHash chainhash.Hash) *wire.MsgMNAnnounce {

	signer := mnsign.KeySigner{}

	mnp := wire.MsgMNPing{
		Outpoint:          outpoint,
		BlockHash:         pingBlockHash,
		SigTime:           sigTime,
		SentinelVersion:   1,
		SentinelIsCurrent: true,
		DaemonVersion:     140000,
	}
	pingSig, err := signer.SignHash(chainhash.DoubleHashH(mnp.SignaturePayload()), mnPriv)
	if err != nil {
		panic(err)
	}
	mnp.Signature = pingSig

	mnb := &wire.MsgMNAnnounce{
		Outpoint:         outpoint,
		Service:          *naFromString(addr),
		PubKeyCollateral: collateralPub,
		PubKeyMasternode: mnPub,
		SigTime:          sigTime,
		ProtocolVersion:  wire.ProtocolVersion,
		LastPing:         mnp,
	}
	sig, err := signer.SignHash(chainhash.DoubleHashH(mnb.SignaturePayload()), collateralPriv)
	if err != nil {
		panic(err)
	}
	mnb.Signature = sig
	return mnb
}

// addMasternode inserts a plain enabled record directly into the registry.
func (h *testHarness) addMasternode(outpoint wire.OutPoint, addr string, pubKeyMN []byte) *Masternode {
	mn := &Masternode{
		Outpoint:         outpoint,
		Addr:             *naFromString(addr),
		PubKeyCollateral: append([]byte(nil), pubKeyMN...),
		PubKeyMasternode: append([]byte(nil), pubKeyMN...),
		SigTime:          testTime.Unix() - 3600,
		ProtocolVersion:  wire.ProtocolVersion,
		State:            StateEnabled,
		GovernanceVotes:  make(map[chainhash.Hash]struct{}),
		LastPing: wire.MsgMNPing{
			Outpoint:          outpoint,
			SigTime:           testTime.Unix() - 60,
			SentinelIsCurrent: true,
		},
	}
	h.mgr.mtx.Lock()
	h.mgr.masternodes[outpoint] = mn
	h.mgr.mtx.Unlock()
	return mn
}
