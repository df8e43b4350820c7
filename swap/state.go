// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
	"github.com/zeebo/blake3"
)

// StateDB interface for accessing and modifying EVM state
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
	AddLog(l *ethtypes.Log)
	GetBlockNumber() uint64
	GetTimestamp() uint64
}

// Storage key prefixes for engine state
var (
	reserveAPrefix  = []byte("pool/rsva")
	reserveBPrefix  = []byte("pool/rsvb")
	totalLiqPrefix  = []byte("pool/tliq")
	liquidityPrefix = []byte("pool/pliq")
)

// makeStorageKey creates a storage key from prefix and identifier
func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

func (e *SwapEngine) reserveAKey() common.Hash {
	return makeStorageKey(reserveAPrefix, e.addr.Bytes())
}

func (e *SwapEngine) reserveBKey() common.Hash {
	return makeStorageKey(reserveBPrefix, e.addr.Bytes())
}

func (e *SwapEngine) totalLiquidityKey() common.Hash {
	return makeStorageKey(totalLiqPrefix, e.addr.Bytes())
}

func (e *SwapEngine) liquidityKey(provider common.Address) common.Hash {
	return makeStorageKey(liquidityPrefix, append(e.addr.Bytes(), provider.Bytes()...))
}

// loadAccumulator reads a stored handle, materializing an encrypted zero
// with an engine self-grant on first reference. Provider-share slots pass
// the provider as an extra grantee so the implicit zero is already
// decryptable by its holder, same as an explicitly stored share.
func (e *SwapEngine) loadAccumulator(stateDB StateDB, slot common.Hash, grantees ...common.Address) (common.Hash, error) {
	handle := stateDB.GetState(e.addr, slot)
	if handle != (common.Hash{}) {
		return handle, nil
	}

	zero, err := e.fac.AsEuint64(0)
	if err != nil {
		return common.Hash{}, err
	}
	e.fac.Allow(zero, e.addr)
	for _, g := range grantees {
		e.fac.Allow(zero, g)
	}
	stateDB.SetState(e.addr, slot, zero)
	return zero, nil
}

// persist writes a handle to a storage slot. The engine self-grant is issued
// before the write on every path: a stored handle without it is unusable by
// all future operations. Extra grantees get persistent access (e.g. a
// provider on their own share).
func (e *SwapEngine) persist(stateDB StateDB, slot common.Hash, handle common.Hash, grantees ...common.Address) {
	e.fac.Allow(handle, e.addr)
	for _, g := range grantees {
		e.fac.Allow(handle, g)
	}
	stateDB.SetState(e.addr, slot, handle)
}
