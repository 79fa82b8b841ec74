// File: intnet/network/destroy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The network's 7-step teardown sequence (spec §4.5 "Destruction").

package network

import (
	"context"
	"time"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/iface"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// disconnectWaits is the escalation schedule for the trunk's
// disconnect_and_release idle wait (spec §4.5 step 6): 10s, then 30s, then
// 360s, with a warning logged at each boundary.
var disconnectWaits = [...]time.Duration{10 * time.Second, 30 * time.Second, 360 * time.Second}

// Destroy runs the network's teardown sequence. Manager.Release calls it
// after unregistering the network; a second call is a harmless no-op.
func (n *Network) Destroy(ctx context.Context) error {
	n.bigMu.Lock()
	defer n.bigMu.Unlock()

	if n.destroyed {
		return nil
	}

	// 1. Mark the trunk Disconnecting so it refuses further callbacks.
	if n.trunk != nil {
		n.trunk.SetState(api.TrunkDisconnecting)
	}

	// 2. Deactivate every interface and the trunk.
	ifs := n.snapshotInterfaces()
	for _, ifc := range ifs {
		if err := ifc.SetActive(ctx, false); err != nil {
			n.log.WithError(err).WithField("if", ifc.Slot()).Warn("destroy: interface did not deactivate cleanly")
		}
	}
	if n.trunk != nil {
		n.trunk.SetState(api.TrunkInactive)
	}

	// 3. Wait for each interface's busy counter to drain.
	for _, ifc := range ifs {
		if err := ifc.Busy().Quiesce(ctx); err != nil {
			n.log.WithError(err).WithField("if", ifc.Slot()).Warn("destroy: busy counter did not drain")
		}
	}

	// 4. Orphan each interface: unlink from the MAC table so their own
	// destructors can still run harmlessly later.
	n.addrMu.Lock()
	for _, ifc := range ifs {
		n.macTab.RemoveInterface(ifc.Slot())
	}
	n.addrMu.Unlock()

	// 5. Signal the reconnection thread (if running) and join with a
	// 5-second timeout.
	n.stopReconnect(5 * time.Second)

	// 6. Call the trunk's disconnect_and_release, escalating the idle
	// wait at each retry and logging at every boundary.
	if n.trunk != nil {
		n.releaseTrunk(ctx)
	}

	// 7. Unlink from the global list (the Manager does this in Release)
	// and drop our own references so buffers can be collected.
	n.destroyed = true
	n.ifReg = nil
	return nil
}

func (n *Network) releaseTrunk(ctx context.Context) {
	for i, wait := range disconnectWaits {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		err := n.trunk.DisconnectAndRelease(waitCtx)
		cancel()
		if err == nil {
			return
		}
		if i == len(disconnectWaits)-1 {
			n.log.WithError(err).Error("destroy: trunk still not idle after final escalation wait")
			return
		}
		n.log.WithError(err).Warnf("destroy: trunk not idle after %s, escalating", wait)
	}
}

func (n *Network) snapshotInterfaces() []*iface.If {
	return n.Interfaces()
}

// Interfaces returns a snapshot of every interface currently linked into
// the network's MAC table, for teardown and for metrics export.
func (n *Network) Interfaces() []*iface.If {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	var out []*iface.If
	n.macTab.Range(func(slot int, _ mac.Addr, _ bool, _ bool, _ bool, ifc *iface.If) {
		if ifc != nil {
			out = append(out, ifc)
		}
	})
	return out
}
