// File: intnet/network/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager is the process-wide named-network registry and the home of
// open_or_create (spec §4.5 "Creation") plus the reconnection thread (spec
// §4.5 "Reconnection thread").

package network

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ringnet/intnetsw/affinity"
	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/control"
)

// TrunkFactory constructs a trunk backend for a freshly created network.
// intnet/trunk registers the concrete implementation; network never imports
// intnet/trunk to avoid the cycle.
type TrunkFactory func(ctx context.Context, trunkType api.TrunkType, trunkName string, n *Network) (TrunkHandle, error)

// Manager is the big create-open-destroy mutex's owner and the process-wide
// table of live named networks (spec §3.2, §4.5).
type Manager struct {
	mu       sync.Mutex
	networks map[string]*Network
	factory  TrunkFactory
	log      *logrus.Entry
}

// NewManager constructs an empty registry. factory may be nil if this build
// only ever creates networks with trunk_type == TrunkNone.
func NewManager(factory TrunkFactory) *Manager {
	m := &Manager{
		networks: make(map[string]*Network),
		factory:  factory,
		log:      logrus.WithField("component", "network.manager"),
	}
	control.RegisterReloadHook(func() {
		m.log.Debug("hot-reload: reconnection re-announce received")
	})
	return m
}

// OpenOrCreate implements spec §4.5 "Creation": scans for a name match; on
// hit, verifies trunk and flag compatibility and attaches; on miss,
// constructs a new network and, for a trunk type requiring a backend,
// instantiates it via the registered factory.
func (m *Manager) OpenOrCreate(ctx context.Context, name string, trunkType api.TrunkType, trunkName string, flags api.NetFlags) (*Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.networks[name]; ok {
		if existing.trunkType != trunkType {
			return nil, api.ErrIncompatibleTrunk
		}
		if trunkType.RequiresName() && existing.trunkName != trunkName {
			return nil, api.ErrIncompatibleTrunk
		}
		if err := existing.CheckCompatible(flags); err != nil {
			return nil, err
		}
		existing.MergeOpenFlags(flags)
		return existing, nil
	}

	n := New(name, trunkType, trunkName, flags)
	if trunkType != api.TrunkNone && trunkType != api.TrunkWhateverNone {
		if m.factory == nil {
			return nil, api.ErrNotImplemented
		}
		t, err := m.factory(ctx, trunkType, trunkName, n)
		if err != nil {
			return nil, err
		}
		n.AttachTrunk(t)
	}
	m.networks[name] = n
	m.log.WithFields(logrus.Fields{"network": name, "trunk_type": trunkType}).Info("network created")
	return n, nil
}

// Release drops the last caller's hold on name, destroying it if it is
// still registered. Safe to call more than once.
func (m *Manager) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	n, ok := m.networks[name]
	if ok {
		delete(m.networks, name)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return n.Destroy(ctx)
}

// Lookup returns the live network registered under name, if any.
func (m *Manager) Lookup(name string) (*Network, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[name]
	return n, ok
}

// Networks returns a snapshot of every currently registered network, for
// metrics export.
func (m *Manager) Networks() []*Network {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Network, 0, len(m.networks))
	for _, n := range m.networks {
		out = append(out, n)
	}
	return out
}

// reconnect tracks one network's background reconnection-thread state.
type reconnect struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var errBigMuBusy = errors.New("network: big mutex unavailable within 1s")

// OnTrunkDisconnected implements the backend-initiated half of the
// disconnect swport callback (spec §4.9, §4.5 "Reconnection thread"):
// detaches the current trunk and spawns a background retry loop that calls
// recreate every 5 seconds until it succeeds or StopReconnect cancels it.
func (n *Network) OnTrunkDisconnected(recreate TrunkFactoryFunc) {
	n.addrMu.Lock()
	n.trunk = nil
	n.macTab.TrunkPresent = false
	n.addrMu.Unlock()
	n.ctrl.SetConfig(map[string]any{"trunk_attached": false})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	n.reconnMu.Lock()
	n.reconn = &reconnect{cancel: cancel, done: done}
	n.reconnMu.Unlock()

	go n.runReconnect(ctx, done, recreate)
}

// TrunkFactoryFunc recreates the trunk backend this network was originally
// configured with (same trunk_type/trunk_name), called by the reconnection
// thread.
type TrunkFactoryFunc func(ctx context.Context) (TrunkHandle, error)

func (n *Network) runReconnect(ctx context.Context, done chan struct{}, recreate TrunkFactoryFunc) {
	defer close(done)

	n.addrMu.Lock()
	cpu := n.cpuAffinity
	n.addrMu.Unlock()
	if cpu >= 0 {
		// The pin applies to the OS thread, so keep this goroutine on it;
		// the thread exits with the goroutine.
		runtime.LockOSThread()
		if err := affinity.SetAffinity(cpu); err != nil {
			n.log.WithError(err).WithField("cpu", cpu).Warn("reconnection thread: failed to pin CPU affinity")
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(5*time.Second), ctx)
	attempt := 0
	op := func() error {
		attempt++
		if !n.tryBigMu(time.Second) {
			return errBigMuBusy
		}
		defer n.bigMu.Unlock()

		if n.destroyed {
			return backoff.Permanent(errors.New("network: destroyed during reconnection"))
		}
		t, err := recreate(ctx)
		if err != nil {
			n.log.WithError(err).WithField("attempt", attempt).Warn("reconnection thread: create_trunk_if failed")
			return err
		}
		n.finishReconnect(t)
		return nil
	}

	if err := backoff.Retry(op, b); err != nil {
		n.log.WithError(err).Info("reconnection thread: stopped without reconnecting")
	}
}

func (n *Network) finishReconnect(t TrunkHandle) {
	n.addrMu.Lock()
	n.trunk = t
	n.macTab.TrunkPresent = true
	n.macTab.WireMac = t.HostMac()
	active := n.nActive > 0
	n.recomputeDerivedLocked()
	n.addrMu.Unlock()

	if active {
		t.SetState(api.TrunkActive)
	}
	// Re-announce step (spec §4.5): the network's own config listeners see
	// the restored trunk's MAC, and the process-wide hot-reload hooks (e.g.
	// the manager's own) are triggered so anything watching topology can
	// refresh.
	n.ctrl.SetConfig(map[string]any{"trunk_attached": true, "host_mac": t.HostMac().String()})
	control.TriggerHotReload()
	n.log.Info("reconnection thread: trunk backend restored")
}

// stopReconnect signals the reconnection thread (if any) and waits up to
// wait for it to exit (spec §4.5 step 5).
func (n *Network) stopReconnect(wait time.Duration) {
	n.reconnMu.Lock()
	r := n.reconn
	n.reconn = nil
	n.reconnMu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(wait):
		n.log.Warn("reconnection thread did not exit within timeout")
	}
}

// tryBigMu attempts to acquire n.bigMu, giving up after timeout (spec §4.5:
// "waiting no more than 1 s for the big mutex inside the thread").
func (n *Network) tryBigMu(timeout time.Duration) bool {
	if n.bigMu.TryLock() {
		return true
	}
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for time.Now().Before(deadline) {
		<-t.C
		if n.bigMu.TryLock() {
			return true
		}
	}
	return false
}
