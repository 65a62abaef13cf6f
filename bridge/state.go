// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "fmt"

// State is a position in the startup sequence. States advance strictly
// in declaration order; a later state is never entered before every
// earlier one has been.
type State int

const (
	// StateCreated is the zero value: the bridge exists but Run has
	// not started.
	StateCreated State = iota

	// StateConfigLoaded means the merged configuration validated.
	StateConfigLoaded

	// StateRegistrationLoaded means the registration descriptor was
	// parsed and validated from disk. Reached before any network or
	// storage resource is touched.
	StateRegistrationLoaded

	// StateClientFactoryBuilt means the Matrix client factory exists,
	// constructed from the bot's derived user ID, the appservice
	// token, and the homeserver URL.
	StateClientFactoryBuilt

	// StateControllerWired means every handler-owning component is
	// constructed and bound into the dispatch controller. From here
	// the dispatch surface is immutable.
	StateControllerWired

	// StateStoreInitialized means the link and ghost stores are open
	// and migrated.
	StateStoreInitialized

	// StateListenerStarted means the appservice listener is bound and
	// the homeserver can push transactions and queries.
	StateListenerStarted

	// StateRemoteClientStarted means the Discord gateway session is
	// open.
	StateRemoteClientStarted

	// StateRunning is the terminal steady state: the process now only
	// responds to dispatched events and signals.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigLoaded:
		return "config_loaded"
	case StateRegistrationLoaded:
		return "registration_loaded"
	case StateClientFactoryBuilt:
		return "client_factory_built"
	case StateControllerWired:
		return "controller_wired"
	case StateStoreInitialized:
		return "store_initialized"
	case StateListenerStarted:
		return "listener_started"
	case StateRemoteClientStarted:
		return "remote_client_started"
	case StateRunning:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
