// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements a confidential asset ledger. Balances are TFHE
// ciphertext handles kept in EVM state; transfers clamp obliviously instead
// of reverting, so an observer cannot learn whether a balance was sufficient.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
	"github.com/zeebo/blake3"

	luxcrypto "github.com/luxfi/crypto"

	"github.com/luxfi/confidential/fhevm"
)

// StateDB interface for accessing and modifying EVM state
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
	AddLog(l *ethtypes.Log)
	GetBlockNumber() uint64
	GetTimestamp() uint64
}

// Storage key prefixes for ledger state
var (
	balancePrefix  = []byte("cbal")
	operatorPrefix = []byte("copr")
)

// TransferTopic is the log topic for confidential transfers. The data
// payload is a ciphertext handle, never a plaintext amount.
var TransferTopic = common.BytesToHash(
	luxcrypto.Keccak256([]byte("ConfidentialTransfer(address,address,bytes32)")))

var (
	ErrZeroAddress     = errors.New("zero address")
	ErrNotOperator     = errors.New("caller is not an approved operator")
	ErrOperatorExpired = errors.New("operator approval expired")
)

// Token is one confidential asset ledger instance.
type Token struct {
	addr common.Address
	fac  *fhevm.Facility
}

// NewToken creates a ledger for the asset at addr.
func NewToken(fac *fhevm.Facility, addr common.Address) (*Token, error) {
	if addr == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	return &Token{addr: addr, fac: fac}, nil
}

// Address returns the asset address this ledger serves.
func (t *Token) Address() common.Address {
	return t.addr
}

// makeStorageKey creates a storage key from prefix and identifier
func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

func (t *Token) balanceKey(account common.Address) common.Hash {
	return makeStorageKey(balancePrefix, append(t.addr.Bytes(), account.Bytes()...))
}

func (t *Token) operatorKey(holder, operator common.Address) common.Hash {
	return makeStorageKey(operatorPrefix, append(append(t.addr.Bytes(), holder.Bytes()...), operator.Bytes()...))
}

// balanceOf loads the account's balance handle, materializing an encrypted
// zero on first reference.
func (t *Token) balanceOf(stateDB StateDB, account common.Address) (common.Hash, error) {
	handle := stateDB.GetState(t.addr, t.balanceKey(account))
	if handle != (common.Hash{}) {
		return handle, nil
	}

	zero, err := t.fac.AsEuint64(0)
	if err != nil {
		return common.Hash{}, err
	}
	t.fac.Allow(zero, t.addr)
	t.fac.Allow(zero, account)
	stateDB.SetState(t.addr, t.balanceKey(account), zero)
	return zero, nil
}

// setBalance persists a balance handle with the mandatory grants: the ledger
// keeps operating on it across calls, the holder may decrypt it off-path.
func (t *Token) setBalance(stateDB StateDB, account common.Address, handle common.Hash) {
	t.fac.Allow(handle, t.addr)
	t.fac.Allow(handle, account)
	stateDB.SetState(t.addr, t.balanceKey(account), handle)
}

// ConfidentialBalanceOf returns the account's encrypted balance handle.
func (t *Token) ConfidentialBalanceOf(stateDB StateDB, account common.Address) (common.Hash, error) {
	return t.balanceOf(stateDB, account)
}

// Mint credits a plaintext amount to an account. Minting is a setup-time
// operation; the amount is public here and encrypted on entry.
func (t *Token) Mint(stateDB StateDB, to common.Address, amount uint64) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	minted, err := t.fac.AsEuint64(amount)
	if err != nil {
		return err
	}
	balance, err := t.balanceOf(stateDB, to)
	if err != nil {
		return err
	}
	updated, err := t.fac.Add(balance, minted)
	if err != nil {
		return err
	}
	t.setBalance(stateDB, to, updated)

	t.fac.Allow(minted, to)
	t.emitTransfer(stateDB, common.Address{}, to, minted)
	return nil
}

// SetOperator approves operator to pull from holder's balance until
// expiresAt (unix seconds). Approval state is public metadata.
func (t *Token) SetOperator(stateDB StateDB, holder, operator common.Address, expiresAt uint64) {
	stateDB.SetState(t.addr, t.operatorKey(holder, operator), expiryToHash(expiresAt))
}

func expiryToHash(expiresAt uint64) common.Hash {
	var value common.Hash
	binary.BigEndian.PutUint64(value[24:32], expiresAt)
	return value
}

func hashToExpiry(value common.Hash) uint64 {
	return binary.BigEndian.Uint64(value[24:32])
}

// isOperator reports whether operator may currently pull from holder.
func (t *Token) isOperator(stateDB StateDB, holder, operator common.Address) error {
	if holder == operator {
		return nil
	}
	value := stateDB.GetState(t.addr, t.operatorKey(holder, operator))
	if value == (common.Hash{}) {
		return ErrNotOperator
	}
	if expiresAt := hashToExpiry(value); expiresAt < stateDB.GetTimestamp() {
		return fmt.Errorf("%w: at %d", ErrOperatorExpired, expiresAt)
	}
	return nil
}

// ConfidentialTransfer moves the requested encrypted amount from caller to
// recipient, clamped to the caller's balance. The returned handle is the
// amount actually moved; under clamping it is an encrypted zero, and nothing
// observable distinguishes that from a full transfer.
func (t *Token) ConfidentialTransfer(stateDB StateDB, caller, to common.Address, amount common.Hash) (common.Hash, error) {
	if to == (common.Address{}) {
		return common.Hash{}, ErrZeroAddress
	}
	return t.transfer(stateDB, caller, caller, to, amount)
}

// ConfidentialTransferFrom is the operator path: caller pulls from holder.
// Operator authorization is public metadata, so an expired window aborts
// with an ordinary error.
func (t *Token) ConfidentialTransferFrom(stateDB StateDB, caller, from, to common.Address, amount common.Hash) (common.Hash, error) {
	if to == (common.Address{}) || from == (common.Address{}) {
		return common.Hash{}, ErrZeroAddress
	}
	if err := t.isOperator(stateDB, from, caller); err != nil {
		return common.Hash{}, err
	}
	return t.transfer(stateDB, caller, from, to, amount)
}

// transfer is the fixed homomorphic sequence shared by both entry points:
// compare, select, add, sub. It runs identically whether or not the balance
// covers the request.
func (t *Token) transfer(stateDB StateDB, caller, from, to common.Address, amount common.Hash) (common.Hash, error) {
	fromBalance, err := t.balanceOf(stateDB, from)
	if err != nil {
		return common.Hash{}, err
	}
	toBalance, err := t.balanceOf(stateDB, to)
	if err != nil {
		return common.Hash{}, err
	}
	zero, err := t.fac.AsEuint64(0)
	if err != nil {
		return common.Hash{}, err
	}

	hasEnough, err := t.fac.Le(amount, fromBalance)
	if err != nil {
		return common.Hash{}, err
	}
	transferred, err := t.fac.Select(hasEnough, amount, zero)
	if err != nil {
		return common.Hash{}, err
	}

	newFrom, err := t.fac.Sub(fromBalance, transferred)
	if err != nil {
		return common.Hash{}, err
	}
	newTo, err := t.fac.Add(toBalance, transferred)
	if err != nil {
		return common.Hash{}, err
	}

	t.setBalance(stateDB, from, newFrom)
	t.setBalance(stateDB, to, newTo)

	// The reported amount is handed back to the caller for the duration of
	// this call so reserve accumulators can fold it in.
	t.fac.Allow(transferred, t.addr)
	t.fac.AllowTransient(transferred, caller)

	t.emitTransfer(stateDB, from, to, transferred)
	return transferred, nil
}

func (t *Token) emitTransfer(stateDB StateDB, from, to common.Address, payload common.Hash) {
	stateDB.AddLog(&ethtypes.Log{
		Address: t.addr,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        payload.Bytes(),
		BlockNumber: stateDB.GetBlockNumber(),
	})
}
