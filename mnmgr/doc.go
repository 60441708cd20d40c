// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mnmgr implements the masternode manager: the local registry of
masternodes known to the node together with the gossip, proof-of-service
verification, payee selection and housekeeping machinery that keeps it
consistent with the rest of the network.

Overview

The manager maintains one record per collateral outpoint.  Records enter the
registry when a masternode announce (mnb) passes structural, collateral and
signature checks, stay alive through periodic pings (mnp), and are removed by
the housekeeping sweep once they reach a terminal state.  Peers exchange
registry contents with dseg requests, which are answered with announce and
ping inventory, and actively verify each other's advertised addresses with
the three-phase mnv challenge.  Abusive behavior at any of these layers is
reported to the peer misbehavior sink with a protocol-defined score.

All collaborators (chain access, connection manager, sync tracker, signer,
payments, governance) are injected through the Config struct; the package has
no process-wide state.
*/
package mnmgr
