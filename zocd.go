// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/zocsuite/zocd/mnmgr"
	"github.com/zocsuite/zocd/mnsign"
)

// zocdMain is the real main function for zocd.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func zocdMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	zocdLog.Infof("Version %s", version())

	// The local masternode identity, when configured.
	var active mnmgr.ActiveMasternode
	if cfg.MasternodeMode {
		local, err := newLocalMasternode(cfg.MasternodeKey, cfg.ExternalIP)
		if err != nil {
			zocdLog.Errorf("Unable to load masternode identity: %v", err)
			return err
		}
		active = local
		zocdLog.Infof("Masternode mode enabled, advertising %s",
			local.Service().Key())
	}

	// The single wiring step: construct the manager with every
	// collaborator injected.  When zocd is embedded into a full node,
	// these are the node's chain, connection manager, sync tracker and
	// friends instead of the standalone substitutes.
	mgr := mnmgr.New(&mnmgr.Config{
		ChainParams:      activeNetParams.Params,
		Chain:            offlineChain{},
		ConnMgr:          offlineConnManager{},
		Sync:             offlineSync{},
		Signer:           mnsign.KeySigner{},
		ActiveMasternode: active,
		Payments:         defaultPayments{},
		Governance:       noopGovernance{},
		PeerSink:         logMisbehavior{},
		Alerter:          logAlerter{},
		TimeSource:       systemTime{},
		NewSigs:          cfg.NewSigs,
		DaemonVersion:    daemonVersion,
		DisableRecovery:  cfg.NoRecovery,
	})

	// Load the masternode cache; a version mismatch means the cache
	// format changed and we intentionally start empty.
	cachePath := cfg.mnCachePath()
	if err := mgr.LoadFromFile(cachePath); err != nil {
		zocdLog.Warnf("Masternode cache %s not loaded: %v; starting with "+
			"an empty list", cachePath, err)
	}

	mgr.Start()
	defer func() {
		mgr.Stop()
		if err := mgr.SaveToFile(cachePath); err != nil {
			zocdLog.Errorf("Failed to save masternode cache: %v", err)
		} else {
			zocdLog.Infof("Masternode cache saved to %s", cachePath)
		}
		zocdLog.Infof("Shutdown complete")
	}()

	// Wait until the interrupt signal is received from an OS signal.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	zocdLog.Infof("Received interrupt signal, shutting down...")

	return nil
}

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit()
	if err := zocdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
