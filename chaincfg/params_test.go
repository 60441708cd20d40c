// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"testing"

	"github.com/zocsuite/zocd/wire"
)

// TestRegister verifies duplicate network registration is refused.
func TestRegister(t *testing.T) {
	// The default networks register themselves at init time.
	if err := Register(&MainNetParams); err != ErrDuplicateNet {
		t.Errorf("re-registering mainnet: got %v, want ErrDuplicateNet", err)
	}

	custom := Params{
		Name: "customnet",
		Net:  wire.ZocNet(0x12345678),
	}
	if err := Register(&custom); err != nil {
		t.Errorf("registering custom net: %v", err)
	}
	if err := Register(&custom); err != ErrDuplicateNet {
		t.Errorf("re-registering custom net: got %v, want ErrDuplicateNet",
			err)
	}
}

// TestNetworkPolicies pins the per-network masternode policies the manager
// keys its behavior on.
func TestNetworkPolicies(t *testing.T) {
	if !MainNetParams.IsMainNet() || TestNet3Params.IsMainNet() {
		t.Error("IsMainNet misclassifies networks")
	}
	if !RegressionNetParams.IsRegNet() {
		t.Error("IsRegNet misclassifies regtest")
	}

	if !MainNetParams.EnforceDSegPacing {
		t.Error("mainnet must enforce dseg pacing")
	}
	if TestNet3Params.EnforceDSegPacing || RegressionNetParams.EnforceDSegPacing {
		t.Error("test networks must not enforce dseg pacing")
	}
	if MainNetParams.AllowMultiplePorts {
		t.Error("mainnet must not allow multiple masternodes per host")
	}
	if !MainNetParams.RequireRoutableMasternodes {
		t.Error("mainnet must require routable masternodes")
	}
}
