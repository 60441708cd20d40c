// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/zocsuite/zocd/chaincfg"
	"github.com/zocsuite/zocd/wire"
)

// activeNetParams is a pointer to the parameters specific to the
// currently active zoc network.
var activeNetParams = &mainNetParams

// params is used to group parameters for various networks such as the main
// network and test networks.
type params struct {
	*chaincfg.Params
	rpcPort string
}

// mainNetParams contains parameters specific to the main network
// (wire.MainNet).
var mainNetParams = params{
	Params:  &chaincfg.MainNetParams,
	rpcPort: "19156",
}

// testNet3Params contains parameters specific to the test network (version
// 3) (wire.TestNet3).
var testNet3Params = params{
	Params:  &chaincfg.TestNet3Params,
	rpcPort: "19256",
}

// regressionNetParams contains parameters specific to the regression test
// network (wire.RegNet).
var regressionNetParams = params{
	Params:  &chaincfg.RegressionNetParams,
	rpcPort: "19356",
}

// netName returns the name used when referring to a zoc network.
func netName(chainParams *params) string {
	switch chainParams.Net {
	case wire.TestNet3:
		return "testnet"
	default:
		return chainParams.Name
	}
}
