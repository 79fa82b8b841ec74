// Package control
// Author: momentics <momentics@gmail.com>
//
// Hot-reload, runtime metrics, configuration control, and debug introspection
// layer for the internal-network switch. The per-network policy-flag store
// (see intnet/network) is a ConfigStore: flag-merge recomputation on a
// conflict-free re-open happens in the network itself, which then mirrors
// the result into the store; its OnReload listener only logs the update.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
//
// This package is build-tag-partitioned: RegisterPlatformProbes exists only
// on Linux and Windows, so on other platforms it is absent.
package control
