// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"errors"
	"time"

	"github.com/zocsuite/zocd/wire"
)

// ErrDuplicateNet describes an error where the parameters for a zoc
// network could not be set due to the network already being a standard
// network or previously-registered via this package.
var ErrDuplicateNet = errors.New("duplicate zoc network")

// Params defines a zoc network by its parameters.  These parameters may be
// used by zoc applications to differentiate networks as well as addresses
// and keys for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net wire.ZocNet

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// AllowMultiplePorts defines whether multiple masternodes are allowed
	// to share a host.  When false, per-peer pacing keys squash the port
	// and the duplicate-IP sweep bans all but one record per host.
	AllowMultiplePorts bool

	// MasternodeMinimumConfirmations is the number of confirmations the
	// collateral output must have before the masternode is eligible.
	MasternodeMinimumConfirmations int32

	// FulfilledRequestExpireTime is how long fulfilled-request markers,
	// such as a served verification reply, remain in effect.
	FulfilledRequestExpireTime time.Duration

	// DSegUpdateInterval is the minimum time between full masternode list
	// requests to (or from) a single peer.  Asking again earlier costs
	// ban score on mainnet.
	DSegUpdateInterval time.Duration

	// RequireRoutableMasternodes defines whether announced masternode
	// addresses must be routable on the public internet.  It is relaxed
	// on test networks so local setups work.
	RequireRoutableMasternodes bool

	// EnforceDSegPacing defines whether a peer asking for the full list
	// again within DSegUpdateInterval earns a misbehavior penalty.  Only
	// the main network enforces this.
	EnforceDSegPacing bool
}

// MainNetParams defines the network parameters for the main zoc network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         wire.MainNet,
	DefaultPort: "19155",

	AllowMultiplePorts:             false,
	MasternodeMinimumConfirmations: 15,
	FulfilledRequestExpireTime:     60 * time.Minute,
	DSegUpdateInterval:             3 * time.Hour,
	RequireRoutableMasternodes:     true,
	EnforceDSegPacing:              true,
}

// TestNet3Params defines the network parameters for the test zoc network
// (version 3).
var TestNet3Params = Params{
	Name:        "testnet3",
	Net:         wire.TestNet3,
	DefaultPort: "19255",

	AllowMultiplePorts:             false,
	MasternodeMinimumConfirmations: 1,
	FulfilledRequestExpireTime:     5 * time.Minute,
	DSegUpdateInterval:             5 * time.Minute,
	RequireRoutableMasternodes:     false,
	EnforceDSegPacing:              false,
}

// RegressionNetParams defines the network parameters for the regression test
// zoc network.  Not to be confused with the test network, this network is
// sometimes simply called "testnet".
var RegressionNetParams = Params{
	Name:        "regtest",
	Net:         wire.RegNet,
	DefaultPort: "19355",

	AllowMultiplePorts:             true,
	MasternodeMinimumConfirmations: 1,
	FulfilledRequestExpireTime:     5 * time.Minute,
	DSegUpdateInterval:             5 * time.Minute,
	RequireRoutableMasternodes:     false,
	EnforceDSegPacing:              false,
}

var (
	// registeredNets keeps track of all the registered networks.
	registeredNets = make(map[wire.ZocNet]struct{})
)

// Register registers the network parameters for a zoc network.  This may
// error with ErrDuplicateNet if the network is already registered (either
// due to a previous Register call, or the network being one of the default
// networks).
//
// Network parameters should be registered into this package by a main package
// as early as possible.  Then, library packages may lookup networks or
// network parameters based on inputs and work regardless of the network being
// standard or not.
func Register(params *Params) error {
	if _, ok := registeredNets[params.Net]; ok {
		return ErrDuplicateNet
	}
	registeredNets[params.Net] = struct{}{}
	return nil
}

// mustRegister performs the same function as Register except it panics if
// there is an error.  This should only be called from package init functions.
func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("failed to register network: " + err.Error())
	}
}

// IsMainNet returns whether the passed params define the main network.
func (p *Params) IsMainNet() bool {
	return p.Net == wire.MainNet
}

// IsRegNet returns whether the passed params define the regression test
// network.
func (p *Params) IsRegNet() bool {
	return p.Net == wire.RegNet
}

func init() {
	// Register all default networks when the package is initialized.
	mustRegister(&MainNetParams)
	mustRegister(&TestNet3Params)
	mustRegister(&RegressionNetParams)
}
