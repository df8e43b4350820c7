// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/geth/common"

	luxcrypto "github.com/luxfi/crypto"
)

// AccessibleState provides the precompile with access to EVM state
type AccessibleState interface {
	GetStateDB() StateDB
}

// Function selectors (first 4 bytes of keccak256 of function signature)
var (
	SelectorAddLiquidity    = selector("addLiquidity(bytes,bytes,bytes,bytes)")
	SelectorRemoveLiquidity = selector("removeLiquidity(bytes,bytes)")
	SelectorSwapAforB       = selector("swapAforB(bytes,bytes)")
	SelectorSwapBforA       = selector("swapBforA(bytes,bytes)")
	SelectorGetReserves     = selector("getReserves()")
	SelectorTotalLiquidity  = selector("totalLiquidity()")
	SelectorLiquidityOf     = selector("liquidityOf(address)")
)

func selector(signature string) [4]byte {
	var s [4]byte
	copy(s[:], luxcrypto.Keccak256([]byte(signature))[:4])
	return s
}

// Gas costs. Mutators run long fixed TFHE sequences regardless of the
// encrypted outcome, so costs are flat per operation.
const (
	GasAddLiquidity    uint64 = 800_000
	GasRemoveLiquidity uint64 = 900_000
	GasSwap            uint64 = 600_000
	GasView            uint64 = 5_000
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInsufficientGas = errors.New("insufficient gas")
	ErrWriteProtection = errors.New("write protection: read-only call to mutator")
	ErrUnknownSelector = errors.New("unknown function selector")
)

// SwapContract exposes the engine as a stateful precompile.
type SwapContract struct {
	engine *SwapEngine
}

// NewSwapContract wraps an engine.
func NewSwapContract(engine *SwapEngine) *SwapContract {
	return &SwapContract{engine: engine}
}

// Run executes the swap precompile.
func (c *SwapContract) Run(
	accessibleState AccessibleState,
	caller common.Address,
	addr common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) (ret []byte, remainingGas uint64, err error) {
	if len(input) < 4 {
		return nil, suppliedGas, ErrInvalidInput
	}

	var sel [4]byte
	copy(sel[:], input[:4])
	data := input[4:]
	stateDB := accessibleState.GetStateDB()

	switch sel {
	case SelectorAddLiquidity:
		return c.handleAddLiquidity(stateDB, caller, data, suppliedGas, readOnly)
	case SelectorRemoveLiquidity:
		return c.handleRemoveLiquidity(stateDB, caller, data, suppliedGas, readOnly)
	case SelectorSwapAforB:
		return c.handleSwap(stateDB, caller, data, suppliedGas, readOnly, c.engine.SwapAforB)
	case SelectorSwapBforA:
		return c.handleSwap(stateDB, caller, data, suppliedGas, readOnly, c.engine.SwapBforA)
	case SelectorGetReserves:
		return c.handleGetReserves(stateDB, suppliedGas)
	case SelectorTotalLiquidity:
		return c.handleTotalLiquidity(stateDB, suppliedGas)
	case SelectorLiquidityOf:
		return c.handleLiquidityOf(stateDB, data, suppliedGas)
	default:
		return nil, suppliedGas, ErrUnknownSelector
	}
}

// parseEncryptedArg reads proof(32) || len(4) || ciphertext and returns the
// pair plus the remaining data.
func parseEncryptedArg(data []byte) (ct, proof, rest []byte, err error) {
	if len(data) < 36 {
		return nil, nil, nil, ErrInvalidInput
	}
	proof = data[:32]
	ctLen := binary.BigEndian.Uint32(data[32:36])
	if uint64(len(data)) < 36+uint64(ctLen) {
		return nil, nil, nil, ErrInvalidInput
	}
	ct = data[36 : 36+ctLen]
	rest = data[36+ctLen:]
	return ct, proof, rest, nil
}

func (c *SwapContract) handleAddLiquidity(stateDB StateDB, caller common.Address, data []byte, gas uint64, readOnly bool) ([]byte, uint64, error) {
	if readOnly {
		return nil, gas, ErrWriteProtection
	}
	if gas < GasAddLiquidity {
		return nil, gas, ErrInsufficientGas
	}

	ctA, proofA, rest, err := parseEncryptedArg(data)
	if err != nil {
		return nil, gas, err
	}
	ctB, proofB, _, err := parseEncryptedArg(rest)
	if err != nil {
		return nil, gas, err
	}

	if err := c.engine.AddLiquidity(stateDB, caller, ctA, proofA, ctB, proofB); err != nil {
		return nil, gas, err
	}
	return nil, gas - GasAddLiquidity, nil
}

func (c *SwapContract) handleRemoveLiquidity(stateDB StateDB, caller common.Address, data []byte, gas uint64, readOnly bool) ([]byte, uint64, error) {
	if readOnly {
		return nil, gas, ErrWriteProtection
	}
	if gas < GasRemoveLiquidity {
		return nil, gas, ErrInsufficientGas
	}

	ct, proof, _, err := parseEncryptedArg(data)
	if err != nil {
		return nil, gas, err
	}

	if err := c.engine.RemoveLiquidity(stateDB, caller, ct, proof); err != nil {
		return nil, gas, err
	}
	return nil, gas - GasRemoveLiquidity, nil
}

func (c *SwapContract) handleSwap(
	stateDB StateDB,
	caller common.Address,
	data []byte,
	gas uint64,
	readOnly bool,
	op func(StateDB, common.Address, []byte, []byte) error,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, gas, ErrWriteProtection
	}
	if gas < GasSwap {
		return nil, gas, ErrInsufficientGas
	}

	ct, proof, _, err := parseEncryptedArg(data)
	if err != nil {
		return nil, gas, err
	}

	if err := op(stateDB, caller, ct, proof); err != nil {
		return nil, gas, err
	}
	return nil, gas - GasSwap, nil
}

func (c *SwapContract) handleGetReserves(stateDB StateDB, gas uint64) ([]byte, uint64, error) {
	if gas < GasView {
		return nil, gas, ErrInsufficientGas
	}
	reserveA, reserveB, err := c.engine.GetReserves(stateDB)
	if err != nil {
		return nil, gas, err
	}
	out := make([]byte, 0, 2*common.HashLength)
	out = append(out, reserveA.Bytes()...)
	out = append(out, reserveB.Bytes()...)
	return out, gas - GasView, nil
}

func (c *SwapContract) handleTotalLiquidity(stateDB StateDB, gas uint64) ([]byte, uint64, error) {
	if gas < GasView {
		return nil, gas, ErrInsufficientGas
	}
	total, err := c.engine.TotalLiquidity(stateDB)
	if err != nil {
		return nil, gas, err
	}
	return total.Bytes(), gas - GasView, nil
}

func (c *SwapContract) handleLiquidityOf(stateDB StateDB, data []byte, gas uint64) ([]byte, uint64, error) {
	if gas < GasView {
		return nil, gas, ErrInsufficientGas
	}
	if len(data) < 32 {
		return nil, gas, ErrInvalidInput
	}
	provider := common.BytesToAddress(data[12:32])
	share, err := c.engine.LiquidityOf(stateDB, provider)
	if err != nil {
		return nil, gas, err
	}
	return share.Bytes(), gas - GasView, nil
}
