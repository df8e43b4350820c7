// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"

	luxcrypto "github.com/luxfi/crypto"
)

// Event topics. Payloads are ciphertext handles: indexers see that an
// operation happened and who took part, never the amounts.
var (
	TopicLiquidityAdded = common.BytesToHash(
		luxcrypto.Keccak256([]byte("LiquidityAdded(address,address,address,bytes32,bytes32,bytes32)")))
	TopicLiquidityRemoved = common.BytesToHash(
		luxcrypto.Keccak256([]byte("LiquidityRemoved(address,address,address,bytes32,bytes32,bytes32)")))
	TopicSwapExecuted = common.BytesToHash(
		luxcrypto.Keccak256([]byte("SwapExecuted(address,address,address,bytes32,bytes32)")))
)

func (e *SwapEngine) emitLiquidityAdded(stateDB StateDB, provider common.Address, amountA, amountB, minted common.Hash) {
	e.emit(stateDB, TopicLiquidityAdded, provider, e.tokenA.Address(), e.tokenB.Address(), amountA, amountB, minted)
}

func (e *SwapEngine) emitLiquidityRemoved(stateDB StateDB, provider common.Address, amountA, amountB, burned common.Hash) {
	e.emit(stateDB, TopicLiquidityRemoved, provider, e.tokenA.Address(), e.tokenB.Address(), amountA, amountB, burned)
}

func (e *SwapEngine) emitSwap(stateDB StateDB, trader common.Address, assetIn, assetOut common.Address, amountIn, amountOut common.Hash) {
	e.emit(stateDB, TopicSwapExecuted, trader, assetIn, assetOut, amountIn, amountOut)
}

func (e *SwapEngine) emit(stateDB StateDB, topic common.Hash, participant, asset0, asset1 common.Address, payloads ...common.Hash) {
	data := make([]byte, 0, len(payloads)*common.HashLength)
	for _, p := range payloads {
		data = append(data, p.Bytes()...)
	}
	stateDB.AddLog(&ethtypes.Log{
		Address: e.addr,
		Topics: []common.Hash{
			topic,
			common.BytesToHash(participant.Bytes()),
			common.BytesToHash(asset0.Bytes()),
			common.BytesToHash(asset1.Bytes()),
		},
		Data:        data,
		BlockNumber: stateDB.GetBlockNumber(),
	})
}
