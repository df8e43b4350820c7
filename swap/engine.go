// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swap implements the confidential fixed-price swap engine
// (LP-9410). Reserves, total liquidity and per-provider shares are TFHE
// ciphertext handles; every operation is a fixed, data-independent sequence
// of homomorphic operations. Validation never reverts on a secret-derived
// condition — it resolves through encrypted comparison and oblivious
// selection, so a failed operation completes as a no-op indistinguishable
// from success.
package swap

import (
	"errors"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/confidential/fhevm"
	"github.com/luxfi/confidential/token"
)

// Price is the fixed public exchange rate: one unit of asset B is worth
// Price units of asset A. Liquidity shares are denominated in asset-A units
// so share accounting needs no second ratio.
const Price uint64 = 2900

var (
	ErrZeroAddress     = errors.New("zero engine address")
	ErrNilFacility     = errors.New("nil arithmetic facility")
	ErrNilLedger       = errors.New("nil asset ledger")
	ErrIdenticalAssets = errors.New("asset A and asset B must differ")
)

// SwapEngine owns the pool's encrypted accumulators. It is the only writer
// of its own storage slots; ledgers and the arithmetic facility are invoked
// synchronously and a failure from either aborts the whole operation.
type SwapEngine struct {
	// mu serializes operations; the ledger environment already runs one
	// operation at a time, this guards direct library use
	mu sync.Mutex

	addr   common.Address
	fac    *fhevm.Facility
	tokenA *token.Token
	tokenB *token.Token
	log    log.Logger
}

// NewSwapEngine validates configuration and builds an engine. Configuration
// errors involve no secrets and fail loudly at setup time.
func NewSwapEngine(fac *fhevm.Facility, tokenA, tokenB *token.Token, addr common.Address) (*SwapEngine, error) {
	if addr == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if fac == nil {
		return nil, ErrNilFacility
	}
	if tokenA == nil || tokenB == nil {
		return nil, ErrNilLedger
	}
	if tokenA.Address() == tokenB.Address() {
		return nil, ErrIdenticalAssets
	}
	return &SwapEngine{
		addr:   addr,
		fac:    fac,
		tokenA: tokenA,
		tokenB: tokenB,
		log:    log.NewTestLogger(log.InfoLevel),
	}, nil
}

// Address returns the engine's account address.
func (e *SwapEngine) Address() common.Address {
	return e.addr
}

// GetReserves returns the encrypted reserve handles. Read paths return
// ciphertext only.
func (e *SwapEngine) GetReserves(stateDB StateDB) (common.Hash, common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reserveA, err := e.loadAccumulator(stateDB, e.reserveAKey())
	if err != nil {
		return common.Hash{}, common.Hash{}, err
	}
	reserveB, err := e.loadAccumulator(stateDB, e.reserveBKey())
	if err != nil {
		return common.Hash{}, common.Hash{}, err
	}
	return reserveA, reserveB, nil
}

// TotalLiquidity returns the encrypted total liquidity handle.
func (e *SwapEngine) TotalLiquidity(stateDB StateDB) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadAccumulator(stateDB, e.totalLiquidityKey())
}

// LiquidityOf returns the provider's encrypted share handle. A provider who
// never deposited holds an encrypted zero.
func (e *SwapEngine) LiquidityOf(stateDB StateDB, provider common.Address) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadAccumulator(stateDB, e.liquidityKey(provider), provider)
}

// AddLiquidity deposits encrypted amounts of both assets. The deposit is
// accepted only when amountA == amountB * Price; the check is an encrypted
// boolean zeroing both legs together, so a mismatch completes as a no-op
// rather than a revert. Accumulators fold in the amounts the ledgers report
// as actually transferred, which may differ from the request under
// ledger-side clamping.
func (e *SwapEngine) AddLiquidity(stateDB StateDB, caller common.Address, encAmountA, proofA, encAmountB, proofB []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.fac.ClearTransient()

	amountA, err := e.fac.Verify(encAmountA, proofA)
	if err != nil {
		return err
	}
	amountB, err := e.fac.Verify(encAmountB, proofB)
	if err != nil {
		return err
	}
	zero, err := e.fac.AsEuint64(0)
	if err != nil {
		return err
	}

	// ratioOk = amountA == amountB * Price, selected on both legs at once
	expectedA, err := e.fac.ScalarMul(amountB, Price)
	if err != nil {
		return err
	}
	ratioOk, err := e.fac.Eq(amountA, expectedA)
	if err != nil {
		return err
	}
	sendA, err := e.fac.Select(ratioOk, amountA, zero)
	if err != nil {
		return err
	}
	sendB, err := e.fac.Select(ratioOk, amountB, zero)
	if err != nil {
		return err
	}

	// Hand the possibly-zeroed requests to the ledgers for this call only
	e.fac.AllowTransient(sendA, e.tokenA.Address())
	e.fac.AllowTransient(sendB, e.tokenB.Address())

	gotA, err := e.tokenA.ConfidentialTransferFrom(stateDB, e.addr, caller, e.addr, sendA)
	if err != nil {
		return err
	}
	gotB, err := e.tokenB.ConfidentialTransferFrom(stateDB, e.addr, caller, e.addr, sendB)
	if err != nil {
		return err
	}

	reserveA, err := e.loadAccumulator(stateDB, e.reserveAKey())
	if err != nil {
		return err
	}
	reserveB, err := e.loadAccumulator(stateDB, e.reserveBKey())
	if err != nil {
		return err
	}
	total, err := e.loadAccumulator(stateDB, e.totalLiquidityKey())
	if err != nil {
		return err
	}
	share, err := e.loadAccumulator(stateDB, e.liquidityKey(caller), caller)
	if err != nil {
		return err
	}

	newReserveA, err := e.fac.Add(reserveA, gotA)
	if err != nil {
		return err
	}
	newReserveB, err := e.fac.Add(reserveB, gotB)
	if err != nil {
		return err
	}

	// Minted liquidity equals the transferred asset-A amount
	minted := gotA
	newShare, err := e.fac.Add(share, minted)
	if err != nil {
		return err
	}
	newTotal, err := e.fac.Add(total, minted)
	if err != nil {
		return err
	}

	e.persist(stateDB, e.reserveAKey(), newReserveA)
	e.persist(stateDB, e.reserveBKey(), newReserveB)
	e.persist(stateDB, e.totalLiquidityKey(), newTotal)
	e.persist(stateDB, e.liquidityKey(caller), newShare, caller)

	// The depositor may read the still-encrypted event payload this call
	e.fac.AllowTransient(gotA, caller)
	e.fac.AllowTransient(gotB, caller)
	e.fac.AllowTransient(minted, caller)

	e.emitLiquidityAdded(stateDB, caller, gotA, gotB, minted)
	e.log.Debug("liquidity added", "provider", caller, "engine", e.addr)
	return nil
}

// RemoveLiquidity burns up to the caller's share and pays out pro-rata at
// the fixed price. Burn amount clamps to the held share; a second oblivious
// guard collapses everything to zero when either reserve cannot cover the
// payout. Asset-B output is floor-divided; the remainder stays in the pool.
func (e *SwapEngine) RemoveLiquidity(stateDB StateDB, caller common.Address, encShareAmount, proof []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.fac.ClearTransient()

	amount, err := e.fac.Verify(encShareAmount, proof)
	if err != nil {
		return err
	}
	zero, err := e.fac.AsEuint64(0)
	if err != nil {
		return err
	}

	share, err := e.loadAccumulator(stateDB, e.liquidityKey(caller), caller)
	if err != nil {
		return err
	}
	hasBalance, err := e.fac.Le(amount, share)
	if err != nil {
		return err
	}
	amountToBurn, err := e.fac.Select(hasBalance, amount, zero)
	if err != nil {
		return err
	}

	// Shares are asset-A denominated: A pays out 1:1, B at the fixed price
	outA := amountToBurn
	outB, err := e.fac.ScalarDiv(amountToBurn, Price)
	if err != nil {
		return err
	}

	reserveA, err := e.loadAccumulator(stateDB, e.reserveAKey())
	if err != nil {
		return err
	}
	reserveB, err := e.loadAccumulator(stateDB, e.reserveBKey())
	if err != nil {
		return err
	}
	coveredA, err := e.fac.Le(outA, reserveA)
	if err != nil {
		return err
	}
	coveredB, err := e.fac.Le(outB, reserveB)
	if err != nil {
		return err
	}
	covered, err := e.fac.And(coveredA, coveredB)
	if err != nil {
		return err
	}

	finalBurn, err := e.fac.Select(covered, amountToBurn, zero)
	if err != nil {
		return err
	}
	finalOutA, err := e.fac.Select(covered, outA, zero)
	if err != nil {
		return err
	}
	finalOutB, err := e.fac.Select(covered, outB, zero)
	if err != nil {
		return err
	}

	e.fac.AllowTransient(finalOutA, e.tokenA.Address())
	e.fac.AllowTransient(finalOutB, e.tokenB.Address())

	// Outbound legs spend the engine's own previously-validated reserve, so
	// the requested amounts are authoritative; the ledger reports are not
	// consulted here, unlike the inbound case.
	if _, err := e.tokenA.ConfidentialTransfer(stateDB, e.addr, caller, finalOutA); err != nil {
		return err
	}
	if _, err := e.tokenB.ConfidentialTransfer(stateDB, e.addr, caller, finalOutB); err != nil {
		return err
	}

	total, err := e.loadAccumulator(stateDB, e.totalLiquidityKey())
	if err != nil {
		return err
	}

	newReserveA, err := e.fac.Sub(reserveA, finalOutA)
	if err != nil {
		return err
	}
	newReserveB, err := e.fac.Sub(reserveB, finalOutB)
	if err != nil {
		return err
	}
	newShare, err := e.fac.Sub(share, finalBurn)
	if err != nil {
		return err
	}
	newTotal, err := e.fac.Sub(total, finalBurn)
	if err != nil {
		return err
	}

	e.persist(stateDB, e.reserveAKey(), newReserveA)
	e.persist(stateDB, e.reserveBKey(), newReserveB)
	e.persist(stateDB, e.totalLiquidityKey(), newTotal)
	e.persist(stateDB, e.liquidityKey(caller), newShare, caller)

	e.fac.AllowTransient(finalOutA, caller)
	e.fac.AllowTransient(finalOutB, caller)
	e.fac.AllowTransient(finalBurn, caller)

	e.emitLiquidityRemoved(stateDB, caller, finalOutA, finalOutB, finalBurn)
	e.log.Debug("liquidity removed", "provider", caller, "engine", e.addr)
	return nil
}

// SwapAforB sells asset A for asset B at the fixed price. Both legs zero
// together when the B reserve cannot cover the output: a failed swap must
// not move asset A in without moving asset B out.
func (e *SwapEngine) SwapAforB(stateDB StateDB, caller common.Address, encAmountIn, proof []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.fac.ClearTransient()

	amountIn, err := e.fac.Verify(encAmountIn, proof)
	if err != nil {
		return err
	}
	out, err := e.fac.ScalarDiv(amountIn, Price)
	if err != nil {
		return err
	}

	reserveB, err := e.loadAccumulator(stateDB, e.reserveBKey())
	if err != nil {
		return err
	}
	return e.swap(stateDB, caller, e.tokenA, e.tokenB, e.reserveAKey(), e.reserveBKey(), amountIn, out, reserveB)
}

// SwapBforA is the structural mirror: out = in * Price, guarded against the
// A reserve. The multiplication wraps mod 2^64 like every euint64 op; an
// input past 2^64/Price yields a wrapped-small output, the inbound leg still
// clamps to the trader's ledger balance, so only the trader bears the loss.
func (e *SwapEngine) SwapBforA(stateDB StateDB, caller common.Address, encAmountIn, proof []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.fac.ClearTransient()

	amountIn, err := e.fac.Verify(encAmountIn, proof)
	if err != nil {
		return err
	}
	out, err := e.fac.ScalarMul(amountIn, Price)
	if err != nil {
		return err
	}

	reserveA, err := e.loadAccumulator(stateDB, e.reserveAKey())
	if err != nil {
		return err
	}
	return e.swap(stateDB, caller, e.tokenB, e.tokenA, e.reserveBKey(), e.reserveAKey(), amountIn, out, reserveA)
}

// swap runs the shared oblivious validate-then-transfer sequence. tokenIn
// is pulled from the caller (inbound reserve credits the ledger-reported
// amount), tokenOut is pushed to the caller (outbound reserve debits the
// requested amount).
func (e *SwapEngine) swap(
	stateDB StateDB,
	caller common.Address,
	tokenIn, tokenOut *token.Token,
	reserveInKey, reserveOutKey common.Hash,
	amountIn, out, reserveOut common.Hash,
) error {
	zero, err := e.fac.AsEuint64(0)
	if err != nil {
		return err
	}

	hasLiquidity, err := e.fac.Le(out, reserveOut)
	if err != nil {
		return err
	}
	finalIn, err := e.fac.Select(hasLiquidity, amountIn, zero)
	if err != nil {
		return err
	}
	finalOut, err := e.fac.Select(hasLiquidity, out, zero)
	if err != nil {
		return err
	}

	e.fac.AllowTransient(finalIn, tokenIn.Address())
	e.fac.AllowTransient(finalOut, tokenOut.Address())

	gotIn, err := tokenIn.ConfidentialTransferFrom(stateDB, e.addr, caller, e.addr, finalIn)
	if err != nil {
		return err
	}
	if _, err := tokenOut.ConfidentialTransfer(stateDB, e.addr, caller, finalOut); err != nil {
		return err
	}

	reserveIn, err := e.loadAccumulator(stateDB, reserveInKey)
	if err != nil {
		return err
	}
	newReserveIn, err := e.fac.Add(reserveIn, gotIn)
	if err != nil {
		return err
	}
	newReserveOut, err := e.fac.Sub(reserveOut, finalOut)
	if err != nil {
		return err
	}

	e.persist(stateDB, reserveInKey, newReserveIn)
	e.persist(stateDB, reserveOutKey, newReserveOut)

	e.fac.AllowTransient(gotIn, caller)
	e.fac.AllowTransient(finalOut, caller)

	e.emitSwap(stateDB, caller, tokenIn.Address(), tokenOut.Address(), gotIn, finalOut)
	e.log.Debug("swap executed", "trader", caller, "in", tokenIn.Address(), "out", tokenOut.Address())
	return nil
}
