// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"sync"

	"github.com/luxfi/geth/common"
)

// GrantScope distinguishes persistent grants from call-scoped ones.
type GrantScope uint8

const (
	// GrantPersistent survives across calls; used for stored accumulators
	// (granted to their owning contract) and for values an account must be
	// able to decrypt later, e.g. a provider's liquidity share.
	GrantPersistent GrantScope = iota

	// GrantTransient is valid only for the duration of the current call;
	// used when a handle is passed to a collaborator as a call argument.
	GrantTransient
)

// accessList records the capability relation (handle, grantee) -> scope.
// A freshly computed ciphertext carries no grants at all: whoever stores one
// must grant before returning or the value is bricked for every future call.
type accessList struct {
	mu sync.RWMutex

	grants map[common.Hash]map[common.Address]GrantScope
}

func newAccessList() *accessList {
	return &accessList{
		grants: make(map[common.Hash]map[common.Address]GrantScope),
	}
}

func (a *accessList) allow(handle common.Hash, account common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grants[handle] == nil {
		a.grants[handle] = make(map[common.Address]GrantScope)
	}
	a.grants[handle][account] = GrantPersistent
}

func (a *accessList) allowTransient(handle common.Hash, account common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grants[handle] == nil {
		a.grants[handle] = make(map[common.Address]GrantScope)
	}
	// A persistent grant is never downgraded by a transient request
	if scope, ok := a.grants[handle][account]; ok && scope == GrantPersistent {
		return
	}
	a.grants[handle][account] = GrantTransient
}

func (a *accessList) isAllowed(handle common.Hash, account common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	grantees, ok := a.grants[handle]
	if !ok {
		return false
	}
	_, ok = grantees[account]
	return ok
}

func (a *accessList) clearTransient() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for handle, grantees := range a.grants {
		for account, scope := range grantees {
			if scope == GrantTransient {
				delete(grantees, account)
			}
		}
		if len(grantees) == 0 {
			delete(a.grants, handle)
		}
	}
}
