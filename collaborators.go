// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/mnmgr"
	"github.com/zocsuite/zocd/wire"
)

// The masternode manager is a library; when zocd runs standalone the
// collaborators below stand in for the full node subsystems that normally
// feed it.  An embedding node replaces every one of them through
// mnmgr.Config.

// offlineChain is a Chain implementation with no chain attached.  Every
// lookup reports the unknown/unspent-unknown case, which the manager treats
// as transient.
type offlineChain struct{}

func (offlineChain) BlockHash(height int32) (*chainhash.Hash, error) {
	return nil, errors.New("no chain attached")
}

func (offlineChain) UTXOConfirmations(outpoint *wire.OutPoint) (int32, bool) {
	return 0, false
}

func (offlineChain) BestHeight() int32 { return 0 }

// offlineConnManager is a ConnManager implementation with no overlay
// attached.
type offlineConnManager struct{}

func (offlineConnManager) ForEachNode(f func(mnmgr.Peer)) {}
func (offlineConnManager) ForNode(*wire.NetAddress, func(mnmgr.Peer) bool) bool {
	return false
}
func (offlineConnManager) AddPendingMasternode(*wire.NetAddress) {}
func (offlineConnManager) IsMasternodeOrDisconnectRequested(*wire.NetAddress) bool {
	return false
}
func (offlineConnManager) AddNewAddress(addr, from *wire.NetAddress) {}
func (offlineConnManager) CheckReachable(addr *wire.NetAddress) bool { return false }

// offlineSync reports nothing as synced, which keeps the manager from
// serving or acting on data it does not have.
type offlineSync struct{}

func (offlineSync) IsBlockchainSynced() bool     { return false }
func (offlineSync) IsMasternodeListSynced() bool { return false }
func (offlineSync) IsWinnersListSynced() bool    { return false }
func (offlineSync) IsSynced() bool               { return false }
func (offlineSync) BumpAssetLastTime(tag string) {}

// defaultPayments is a Payments implementation with no payment history.
type defaultPayments struct{}

func (defaultPayments) MinProtoVersion() uint32 { return wire.MinPeerProtoVersion }
func (defaultPayments) IsScheduled(info *mnmgr.Info, height int32) bool {
	return false
}
func (defaultPayments) StorageLimit() int32 { return 4000 }
func (defaultPayments) LastPaidBlock(outpoint wire.OutPoint, maxScanBack int32) int32 {
	return 0
}

// noopGovernance is a Governance implementation with no governance module
// attached.
type noopGovernance struct{}

func (noopGovernance) CheckOrphanObjects()   {}
func (noopGovernance) CheckOrphanVotes()     {}
func (noopGovernance) UpdateCachesAndClean() {}

// logMisbehavior records peer penalties in the log; a full node feeds them
// into its ban manager instead.
type logMisbehavior struct{}

func (logMisbehavior) Misbehaving(peerID int32, score int32) {
	zocdLog.Infof("peer=%d misbehaving, penalty %d", peerID, score)
}

// logAlerter surfaces alerts in the log.
type logAlerter struct{}

func (logAlerter) Alert(msg string) {
	zocdLog.Warnf("%s", msg)
}

// systemTime is a TimeSource that trusts the local clock.  A full node
// substitutes its median-time source.
type systemTime struct{}

func (systemTime) AdjustedTime() time.Time { return time.Now() }

// localMasternode is the ActiveMasternode identity built from the
// --masternode options.
type localMasternode struct {
	outpoint wire.OutPoint
	service  wire.NetAddress
	privKey  []byte
	pubKey   []byte
}

// newLocalMasternode builds the local masternode identity from the
// configured private key and external address.
func newLocalMasternode(keyHex, externalIP string) (*localMasternode, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.New("malformed masternode private key")
	}
	if len(keyBytes) != btcec.PrivKeyBytesLen {
		return nil, errors.New("masternode private key must be 32 bytes")
	}
	privKey, pubKey := btcec.PrivKeyFromBytes(keyBytes)

	host, portStr, err := net.SplitHostPort(externalIP)
	if err != nil {
		host = externalIP
		portStr = activeNetParams.DefaultPort
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.New("malformed external address port")
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.New("malformed external address")
	}

	return &localMasternode{
		service: wire.NetAddress{
			Services: wire.SFNodeNetwork,
			IP:       ip,
			Port:     uint16(port),
		},
		privKey: privKey.Serialize(),
		pubKey:  pubKey.SerializeCompressed(),
	}, nil
}

func (mn *localMasternode) Outpoint() wire.OutPoint   { return mn.outpoint }
func (mn *localMasternode) Service() *wire.NetAddress { return &mn.service }
func (mn *localMasternode) PrivKey() []byte           { return mn.privKey }
func (mn *localMasternode) PubKey() []byte            { return mn.pubKey }

func (mn *localMasternode) ManageState() {
	zocdLog.Infof("masternode %s remotely activated", mn.service.Key())
}
