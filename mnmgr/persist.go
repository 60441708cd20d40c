// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnmgr

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zocsuite/zocd/wire"
)

// SerializationVersion tags every persisted snapshot.  A snapshot with any
// other tag is refused and the manager starts empty.
const SerializationVersion = "CMasternodeMan-Version-8"

// serializedNetAddress is a NetAddress rendered with JSON-friendly types.
type serializedNetAddress struct {
	IP       string `json:"ip"`
	Port     uint16 `json:"port"`
	Services uint64 `json:"services"`
}

// serializedPing is a ping message rendered with JSON-friendly types.
type serializedPing struct {
	Outpoint          string `json:"outpoint"`
	BlockHash         string `json:"blockhash"`
	SigTime           int64  `json:"sigtime"`
	Signature         string `json:"signature"`
	SentinelVersion   uint32 `json:"sentinelversion"`
	SentinelIsCurrent bool   `json:"sentineliscurrent"`
	DaemonVersion     uint32 `json:"daemonversion"`
}

// serializedAnnounce is an announce message rendered with JSON-friendly
// types.
type serializedAnnounce struct {
	Outpoint         string               `json:"outpoint"`
	Service          serializedNetAddress `json:"service"`
	PubKeyCollateral string               `json:"pubkeycollateral"`
	PubKeyMasternode string               `json:"pubkeymasternode"`
	Signature        string               `json:"signature"`
	SigTime          int64                `json:"sigtime"`
	ProtocolVersion  uint32               `json:"protocolversion"`
	LastPing         serializedPing       `json:"lastping"`
}

// serializedVerification is a verification message rendered with
// JSON-friendly types.
type serializedVerification struct {
	Addr        serializedNetAddress `json:"addr"`
	Nonce       uint64               `json:"nonce"`
	BlockHeight int32                `json:"blockheight"`
	Sig1        string               `json:"sig1"`
	Sig2        string               `json:"sig2"`
	Outpoint1   string               `json:"outpoint1"`
	Outpoint2   string               `json:"outpoint2"`
}

// serializedMasternode is a registry record rendered with JSON-friendly
// types.
type serializedMasternode struct {
	Outpoint         string               `json:"outpoint"`
	Addr             serializedNetAddress `json:"addr"`
	PubKeyCollateral string               `json:"pubkeycollateral"`
	PubKeyMasternode string               `json:"pubkeymasternode"`
	SigTime          int64                `json:"sigtime"`
	ProtocolVersion  uint32               `json:"protocolversion"`
	State            int32                `json:"state"`
	LastPing         serializedPing       `json:"lastping"`
	LastPaidBlock    int32                `json:"lastpaidblock"`
	PoSeBanScore     int32                `json:"posebanscore"`
	AllowMixingTx    bool                 `json:"allowmixingtx"`
	LastDsq          uint64               `json:"lastdsq"`
	GovernanceVotes  []string             `json:"governancevotes"`
}

// serializedSeenAnnounce pairs a seen announce with its first-seen time.
type serializedSeenAnnounce struct {
	Hash      string             `json:"hash"`
	FirstSeen int64              `json:"firstseen"`
	Announce  serializedAnnounce `json:"announce"`
}

// serializedManager is the versioned snapshot written to disk: the registry
// together with every pacing table the manager would otherwise have to
// rebuild from the network.
type serializedManager struct {
	Version string `json:"version"`

	Masternodes            []serializedMasternode            `json:"masternodes"`
	AskedUsForList         map[string]int64                  `json:"askedusforlist"`
	WeAskedForList         map[string]int64                  `json:"weaskedforlist"`
	WeAskedForEntry        map[string]map[string]int64       `json:"weaskedforentry"`
	WeAskedForVerification map[string]serializedVerification `json:"weaskedforverification"`
	SeenBroadcast          []serializedSeenAnnounce          `json:"seenbroadcast"`
	SeenPing               map[string]serializedPing         `json:"seenping"`
	SeenVerification       map[string]serializedVerification `json:"seenverification"`
	LastSentinelPingTime   int64                             `json:"lastsentinelpingtime"`
	DsqCount               uint64                            `json:"dsqcount"`
}

// outpointToString renders an outpoint as "hash:index" with the hash in its
// canonical string form.
func outpointToString(outpoint *wire.OutPoint) string {
	return outpoint.String()
}

// outpointFromString parses the "hash:index" form produced by
// outpointToString.
func outpointFromString(s string) (wire.OutPoint, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return wire.OutPoint{}, fmt.Errorf("malformed outpoint %q", s)
	}
	hash, err := chainhash.NewHashFromStr(s[:idx])
	if err != nil {
		return wire.OutPoint{}, err
	}
	index, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return wire.OutPoint{}, err
	}
	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}

// hashFromString parses a canonical hash string.
func hashFromString(s string) (chainhash.Hash, error) {
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *hash, nil
}

func serializeNetAddr(na *wire.NetAddress) serializedNetAddress {
	ip := ""
	if na.IP != nil {
		ip = na.IP.String()
	}
	return serializedNetAddress{
		IP:       ip,
		Port:     na.Port,
		Services: uint64(na.Services),
	}
}

func deserializeNetAddr(sna *serializedNetAddress) wire.NetAddress {
	return wire.NetAddress{
		Services: wire.ServiceFlag(sna.Services),
		IP:       net.ParseIP(sna.IP),
		Port:     sna.Port,
	}
}

func serializePing(mnp *wire.MsgMNPing) serializedPing {
	return serializedPing{
		Outpoint:          outpointToString(&mnp.Outpoint),
		BlockHash:         mnp.BlockHash.String(),
		SigTime:           mnp.SigTime,
		Signature:         hex.EncodeToString(mnp.Signature),
		SentinelVersion:   mnp.SentinelVersion,
		SentinelIsCurrent: mnp.SentinelIsCurrent,
		DaemonVersion:     mnp.DaemonVersion,
	}
}

func deserializePing(sp *serializedPing) (wire.MsgMNPing, error) {
	outpoint, err := outpointFromString(sp.Outpoint)
	if err != nil {
		return wire.MsgMNPing{}, err
	}
	blockHash, err := hashFromString(sp.BlockHash)
	if err != nil {
		return wire.MsgMNPing{}, err
	}
	sig, err := hex.DecodeString(sp.Signature)
	if err != nil {
		return wire.MsgMNPing{}, err
	}
	return wire.MsgMNPing{
		Outpoint:          outpoint,
		BlockHash:         blockHash,
		SigTime:           sp.SigTime,
		Signature:         sig,
		SentinelVersion:   sp.SentinelVersion,
		SentinelIsCurrent: sp.SentinelIsCurrent,
		DaemonVersion:     sp.DaemonVersion,
	}, nil
}

func serializeAnnounce(mnb *wire.MsgMNAnnounce) serializedAnnounce {
	return serializedAnnounce{
		Outpoint:         outpointToString(&mnb.Outpoint),
		Service:          serializeNetAddr(&mnb.Service),
		PubKeyCollateral: hex.EncodeToString(mnb.PubKeyCollateral),
		PubKeyMasternode: hex.EncodeToString(mnb.PubKeyMasternode),
		Signature:        hex.EncodeToString(mnb.Signature),
		SigTime:          mnb.SigTime,
		ProtocolVersion:  mnb.ProtocolVersion,
		LastPing:         serializePing(&mnb.LastPing),
	}
}

func deserializeAnnounce(sa *serializedAnnounce) (*wire.MsgMNAnnounce, error) {
	outpoint, err := outpointFromString(sa.Outpoint)
	if err != nil {
		return nil, err
	}
	pkc, err := hex.DecodeString(sa.PubKeyCollateral)
	if err != nil {
		return nil, err
	}
	pkm, err := hex.DecodeString(sa.PubKeyMasternode)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(sa.Signature)
	if err != nil {
		return nil, err
	}
	ping, err := deserializePing(&sa.LastPing)
	if err != nil {
		return nil, err
	}
	return &wire.MsgMNAnnounce{
		Outpoint:         outpoint,
		Service:          deserializeNetAddr(&sa.Service),
		PubKeyCollateral: pkc,
		PubKeyMasternode: pkm,
		Signature:        sig,
		SigTime:          sa.SigTime,
		ProtocolVersion:  sa.ProtocolVersion,
		LastPing:         ping,
	}, nil
}

func serializeVerification(mnv *wire.MsgMNVerify) serializedVerification {
	return serializedVerification{
		Addr:        serializeNetAddr(&mnv.Addr),
		Nonce:       mnv.Nonce,
		BlockHeight: mnv.BlockHeight,
		Sig1:        hex.EncodeToString(mnv.Sig1),
		Sig2:        hex.EncodeToString(mnv.Sig2),
		Outpoint1:   outpointToString(&mnv.Outpoint1),
		Outpoint2:   outpointToString(&mnv.Outpoint2),
	}
}

func deserializeVerification(sv *serializedVerification) (*wire.MsgMNVerify, error) {
	sig1, err := hex.DecodeString(sv.Sig1)
	if err != nil {
		return nil, err
	}
	sig2, err := hex.DecodeString(sv.Sig2)
	if err != nil {
		return nil, err
	}
	outpoint1, err := outpointFromString(sv.Outpoint1)
	if err != nil {
		return nil, err
	}
	outpoint2, err := outpointFromString(sv.Outpoint2)
	if err != nil {
		return nil, err
	}
	mnv := &wire.MsgMNVerify{
		Addr:        deserializeNetAddr(&sv.Addr),
		Nonce:       sv.Nonce,
		BlockHeight: sv.BlockHeight,
		Sig1:        sig1,
		Sig2:        sig2,
		Outpoint1:   outpoint1,
		Outpoint2:   outpoint2,
	}
	if len(mnv.Sig1) == 0 {
		mnv.Sig1 = nil
	}
	if len(mnv.Sig2) == 0 {
		mnv.Sig2 = nil
	}
	return mnv, nil
}

// Serialize writes a versioned snapshot of the manager state to w.
func (m *Manager) Serialize(w io.Writer) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	sm := serializedManager{
		Version:                SerializationVersion,
		AskedUsForList:         make(map[string]int64, len(m.askedUsForList)),
		WeAskedForList:         make(map[string]int64, len(m.weAskedForList)),
		WeAskedForEntry:        make(map[string]map[string]int64, len(m.weAskedForEntry)),
		WeAskedForVerification: make(map[string]serializedVerification, len(m.weAskedForVerification)),
		SeenPing:               make(map[string]serializedPing, len(m.seenPing)),
		SeenVerification:       make(map[string]serializedVerification, len(m.seenVerification)),
		DsqCount:               m.dsqCount,
	}
	if !m.lastSentinelPingTime.IsZero() {
		sm.LastSentinelPingTime = m.lastSentinelPingTime.Unix()
	}

	for _, mn := range m.masternodes {
		votes := make([]string, 0, len(mn.GovernanceVotes))
		for hash := range mn.GovernanceVotes {
			votes = append(votes, hash.String())
		}
		sm.Masternodes = append(sm.Masternodes, serializedMasternode{
			Outpoint:         outpointToString(&mn.Outpoint),
			Addr:             serializeNetAddr(&mn.Addr),
			PubKeyCollateral: hex.EncodeToString(mn.PubKeyCollateral),
			PubKeyMasternode: hex.EncodeToString(mn.PubKeyMasternode),
			SigTime:          mn.SigTime,
			ProtocolVersion:  mn.ProtocolVersion,
			State:            int32(mn.State),
			LastPing:         serializePing(&mn.LastPing),
			LastPaidBlock:    mn.LastPaidBlock,
			PoSeBanScore:     mn.PoSeBanScore,
			AllowMixingTx:    mn.AllowMixingTx,
			LastDsq:          mn.LastDsq,
			GovernanceVotes:  votes,
		})
	}

	for key, deadline := range m.askedUsForList {
		sm.AskedUsForList[key] = deadline.Unix()
	}
	for key, deadline := range m.weAskedForList {
		sm.WeAskedForList[key] = deadline.Unix()
	}
	for outpoint, entries := range m.weAskedForEntry {
		inner := make(map[string]int64, len(entries))
		for key, deadline := range entries {
			inner[key] = deadline.Unix()
		}
		sm.WeAskedForEntry[outpointToString(&outpoint)] = inner
	}
	for key, mnv := range m.weAskedForVerification {
		sm.WeAskedForVerification[key] = serializeVerification(mnv)
	}
	for hash, seen := range m.seenBroadcast {
		sm.SeenBroadcast = append(sm.SeenBroadcast, serializedSeenAnnounce{
			Hash:      hash.String(),
			FirstSeen: seen.firstSeen.Unix(),
			Announce:  serializeAnnounce(seen.announce),
		})
	}
	for hash, mnp := range m.seenPing {
		sm.SeenPing[hash.String()] = serializePing(mnp)
	}
	for hash, mnv := range m.seenVerification {
		sm.SeenVerification[hash.String()] = serializeVerification(mnv)
	}

	return json.NewEncoder(w).Encode(&sm)
}

// Deserialize replaces the manager state with the snapshot read from r.  A
// snapshot whose version tag differs from SerializationVersion is refused
// and the state is left untouched.
func (m *Manager) Deserialize(r io.Reader) error {
	var sm serializedManager
	if err := json.NewDecoder(r).Decode(&sm); err != nil {
		return fmt.Errorf("error reading masternode snapshot: %w", err)
	}
	if sm.Version != SerializationVersion {
		return fmt.Errorf("unknown masternode snapshot version %q", sm.Version)
	}

	masternodes := make(map[wire.OutPoint]*Masternode, len(sm.Masternodes))
	for i := range sm.Masternodes {
		smn := &sm.Masternodes[i]
		outpoint, err := outpointFromString(smn.Outpoint)
		if err != nil {
			return err
		}
		pkc, err := hex.DecodeString(smn.PubKeyCollateral)
		if err != nil {
			return err
		}
		pkm, err := hex.DecodeString(smn.PubKeyMasternode)
		if err != nil {
			return err
		}
		ping, err := deserializePing(&smn.LastPing)
		if err != nil {
			return err
		}
		votes := make(map[chainhash.Hash]struct{}, len(smn.GovernanceVotes))
		for _, voteStr := range smn.GovernanceVotes {
			hash, err := hashFromString(voteStr)
			if err != nil {
				return err
			}
			votes[hash] = struct{}{}
		}
		masternodes[outpoint] = &Masternode{
			Outpoint:         outpoint,
			Addr:             deserializeNetAddr(&smn.Addr),
			PubKeyCollateral: pkc,
			PubKeyMasternode: pkm,
			SigTime:          smn.SigTime,
			ProtocolVersion:  smn.ProtocolVersion,
			State:            ActiveState(smn.State),
			LastPing:         ping,
			LastPaidBlock:    smn.LastPaidBlock,
			PoSeBanScore:     smn.PoSeBanScore,
			AllowMixingTx:    smn.AllowMixingTx,
			LastDsq:          smn.LastDsq,
			GovernanceVotes:  votes,
		}
	}

	askedUs := make(map[string]time.Time, len(sm.AskedUsForList))
	for key, unix := range sm.AskedUsForList {
		askedUs[key] = time.Unix(unix, 0)
	}
	weAsked := make(map[string]time.Time, len(sm.WeAskedForList))
	for key, unix := range sm.WeAskedForList {
		weAsked[key] = time.Unix(unix, 0)
	}
	weAskedEntry := make(map[wire.OutPoint]map[string]time.Time, len(sm.WeAskedForEntry))
	for outStr, entries := range sm.WeAskedForEntry {
		outpoint, err := outpointFromString(outStr)
		if err != nil {
			return err
		}
		inner := make(map[string]time.Time, len(entries))
		for key, unix := range entries {
			inner[key] = time.Unix(unix, 0)
		}
		weAskedEntry[outpoint] = inner
	}
	weAskedVerification := make(map[string]*wire.MsgMNVerify, len(sm.WeAskedForVerification))
	for key := range sm.WeAskedForVerification {
		sv := sm.WeAskedForVerification[key]
		mnv, err := deserializeVerification(&sv)
		if err != nil {
			return err
		}
		weAskedVerification[key] = mnv
	}
	seenBroadcast := make(map[chainhash.Hash]*seenAnnounce, len(sm.SeenBroadcast))
	for i := range sm.SeenBroadcast {
		ssa := &sm.SeenBroadcast[i]
		hash, err := hashFromString(ssa.Hash)
		if err != nil {
			return err
		}
		mnb, err := deserializeAnnounce(&ssa.Announce)
		if err != nil {
			return err
		}
		seenBroadcast[hash] = &seenAnnounce{
			firstSeen: time.Unix(ssa.FirstSeen, 0),
			announce:  mnb,
		}
	}
	seenPing := make(map[chainhash.Hash]*wire.MsgMNPing, len(sm.SeenPing))
	for hashStr := range sm.SeenPing {
		sp := sm.SeenPing[hashStr]
		hash, err := hashFromString(hashStr)
		if err != nil {
			return err
		}
		mnp, err := deserializePing(&sp)
		if err != nil {
			return err
		}
		seenPing[hash] = &mnp
	}
	seenVerification := make(map[chainhash.Hash]*wire.MsgMNVerify, len(sm.SeenVerification))
	for hashStr := range sm.SeenVerification {
		sv := sm.SeenVerification[hashStr]
		hash, err := hashFromString(hashStr)
		if err != nil {
			return err
		}
		mnv, err := deserializeVerification(&sv)
		if err != nil {
			return err
		}
		seenVerification[hash] = mnv
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.masternodes = masternodes
	m.askedUsForList = askedUs
	m.weAskedForList = weAsked
	m.weAskedForEntry = weAskedEntry
	m.weAskedForVerification = weAskedVerification
	m.seenBroadcast = seenBroadcast
	m.seenPing = seenPing
	m.seenVerification = seenVerification
	m.dsqCount = sm.DsqCount
	if sm.LastSentinelPingTime != 0 {
		m.lastSentinelPingTime = time.Unix(sm.LastSentinelPingTime, 0)
	} else {
		m.lastSentinelPingTime = time.Time{}
	}

	log.Infof("Loaded masternode snapshot: %s", m.stringLocked())
	return nil
}

// SaveToFile atomically writes the snapshot to the named file.
func (m *Manager) SaveToFile(path string) error {
	tmp := path + ".new"
	w, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error opening file %s: %w", tmp, err)
	}
	if err := m.Serialize(w); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromFile reads a snapshot from the named file.  A missing file is not
// an error; the manager simply starts empty.  A version mismatch is an
// error and the state is left untouched.
func (m *Manager) LoadFromFile(path string) error {
	r, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer r.Close()
	return m.Deserialize(r)
}
