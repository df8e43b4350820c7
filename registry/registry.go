// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry assigns the confidential-market precompile addresses.
//
// Confidential markets live in the LP-94xx block of the trailing-significant
// address scheme (0x0000000000000000000000000000000000PCII): P=9 (markets),
// the low byte identifies the module. Asset ledgers are instantiated per
// market and registered at runtime from LP-9420 upward.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
)

const (
	// Fixed confidential-market modules (LP-941x).
	SwapEngineAddress       = "0x0000000000000000000000000000000000009410" // LP-9410 fixed-price swap engine
	DecryptionOracleAddress = "0x0000000000000000000000000000000000009411" // LP-9411 decryption relay
	ArithmeticAddress       = "0x0000000000000000000000000000000000009412" // LP-9412 encrypted arithmetic facility

	// Per-market asset ledgers register from here (LP-942x).
	LedgerBaseLP uint16 = 0x9420
)

var (
	ErrDuplicateLP      = errors.New("LP number already registered")
	ErrDuplicateAddress = errors.New("address already registered")
	ErrUnknownModule    = errors.New("module not registered")
)

// ModuleInfo describes one registered confidential-market module.
type ModuleInfo struct {
	LP      uint16
	Address common.Address
	Name    string
}

// Registry maps LP numbers and addresses to confidential-market modules.
type Registry struct {
	mu     sync.RWMutex
	byLP   map[uint16]ModuleInfo
	byAddr map[common.Address]ModuleInfo
}

// NewRegistry returns a registry pre-populated with the fixed modules.
func NewRegistry() *Registry {
	r := &Registry{
		byLP:   make(map[uint16]ModuleInfo),
		byAddr: make(map[common.Address]ModuleInfo),
	}
	r.mustRegister(0x9410, common.HexToAddress(SwapEngineAddress), "ConfidentialSwapEngine")
	r.mustRegister(0x9411, common.HexToAddress(DecryptionOracleAddress), "DecryptionOracle")
	r.mustRegister(0x9412, common.HexToAddress(ArithmeticAddress), "EncryptedArithmetic")
	return r
}

func (r *Registry) mustRegister(lp uint16, addr common.Address, name string) {
	if err := r.Register(lp, addr, name); err != nil {
		panic(err)
	}
}

// Register adds a module. Both the LP number and the address must be unused.
func (r *Registry) Register(lp uint16, addr common.Address, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byLP[lp]; ok {
		return ErrDuplicateLP
	}
	if _, ok := r.byAddr[addr]; ok {
		return ErrDuplicateAddress
	}

	info := ModuleInfo{LP: lp, Address: addr, Name: name}
	r.byLP[lp] = info
	r.byAddr[addr] = info
	return nil
}

// RegisterLedger assigns the next free slot in the ledger block.
func (r *Registry) RegisterLedger(addr common.Address, name string) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byAddr[addr]; ok {
		return 0, ErrDuplicateAddress
	}

	lp := LedgerBaseLP
	for {
		if _, ok := r.byLP[lp]; !ok {
			break
		}
		lp++
	}

	info := ModuleInfo{LP: lp, Address: addr, Name: name}
	r.byLP[lp] = info
	r.byAddr[addr] = info
	return lp, nil
}

// GetByLP looks up a module by LP number.
func (r *Registry) GetByLP(lp uint16) (ModuleInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.byLP[lp]
	if !ok {
		return ModuleInfo{}, ErrUnknownModule
	}
	return info, nil
}

// GetByAddress looks up a module by precompile address.
func (r *Registry) GetByAddress(addr common.Address) (ModuleInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.byAddr[addr]
	if !ok {
		return ModuleInfo{}, ErrUnknownModule
	}
	return info, nil
}

// Modules returns every registered module ordered by LP number.
func (r *Registry) Modules() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModuleInfo, 0, len(r.byLP))
	for _, info := range r.byLP {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LP < out[j].LP })
	return out
}
