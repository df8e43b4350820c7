// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/confidential/fhevm"
	"github.com/luxfi/confidential/token"
)

// MockStateDB implements the StateDB interface for testing
type MockStateDB struct {
	storage     map[common.Address]map[common.Hash]common.Hash
	logs        []*ethtypes.Log
	blockNumber uint64
	timestamp   uint64
}

func NewMockStateDB() *MockStateDB {
	return &MockStateDB{
		storage: make(map[common.Address]map[common.Hash]common.Hash),
		logs:    make([]*ethtypes.Log, 0),
	}
}

func (m *MockStateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if m.storage[addr] == nil {
		return common.Hash{}
	}
	return m.storage[addr][key]
}

func (m *MockStateDB) SetState(addr common.Address, key, value common.Hash) {
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	m.storage[addr][key] = value
}

func (m *MockStateDB) AddLog(l *ethtypes.Log) { m.logs = append(m.logs, l) }
func (m *MockStateDB) GetBlockNumber() uint64 { return m.blockNumber }
func (m *MockStateDB) GetTimestamp() uint64   { return m.timestamp }

var (
	engineAddr = common.HexToAddress("0x0000000000000000000000000000000000009410")
	assetA     = common.HexToAddress("0x0000000000000000000000000000000000009420")
	assetB     = common.HexToAddress("0x0000000000000000000000000000000000009421")
	trader     = common.HexToAddress("0x7777777777777777777777777777777777777777")
	partner    = common.HexToAddress("0x8888888888888888888888888888888888888888")
)

type poolFixture struct {
	engine  *SwapEngine
	fac     *fhevm.Facility
	tokenA  *token.Token
	tokenB  *token.Token
	stateDB *MockStateDB
}

// newPoolFixture funds the trader with 10000 A / 10 B and approves the
// engine as operator on both ledgers.
func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()

	fac, err := fhevm.NewFacility(memdb.New())
	require.NoError(t, err)

	tokenA, err := token.NewToken(fac, assetA)
	require.NoError(t, err)
	tokenB, err := token.NewToken(fac, assetB)
	require.NoError(t, err)

	engine, err := NewSwapEngine(fac, tokenA, tokenB, engineAddr)
	require.NoError(t, err)

	stateDB := NewMockStateDB()
	stateDB.timestamp = 1000

	require.NoError(t, tokenA.Mint(stateDB, trader, 10000))
	require.NoError(t, tokenB.Mint(stateDB, trader, 10))
	tokenA.SetOperator(stateDB, trader, engineAddr, 1<<40)
	tokenB.SetOperator(stateDB, trader, engineAddr, 1<<40)

	return &poolFixture{engine: engine, fac: fac, tokenA: tokenA, tokenB: tokenB, stateDB: stateDB}
}

func (p *poolFixture) encrypt(t *testing.T, value uint64) (ct, proof []byte) {
	t.Helper()
	ct, proof, err := p.fac.EncryptInput(value)
	require.NoError(t, err)
	return ct, proof
}

func (p *poolFixture) addLiquidity(t *testing.T, amountA, amountB uint64) {
	t.Helper()
	ctA, proofA := p.encrypt(t, amountA)
	ctB, proofB := p.encrypt(t, amountB)
	require.NoError(t, p.engine.AddLiquidity(p.stateDB, trader, ctA, proofA, ctB, proofB))
}

func (p *poolFixture) reserves(t *testing.T) (uint64, uint64) {
	t.Helper()
	handleA, handleB, err := p.engine.GetReserves(p.stateDB)
	require.NoError(t, err)
	valueA, err := p.fac.Decrypt(handleA, engineAddr)
	require.NoError(t, err, "engine must hold a grant on its own reserves")
	valueB, err := p.fac.Decrypt(handleB, engineAddr)
	require.NoError(t, err)
	return valueA, valueB
}

func (p *poolFixture) totalLiquidity(t *testing.T) uint64 {
	t.Helper()
	handle, err := p.engine.TotalLiquidity(p.stateDB)
	require.NoError(t, err)
	value, err := p.fac.Decrypt(handle, engineAddr)
	require.NoError(t, err)
	return value
}

func (p *poolFixture) share(t *testing.T, provider common.Address) uint64 {
	t.Helper()
	handle, err := p.engine.LiquidityOf(p.stateDB, provider)
	require.NoError(t, err)
	value, err := p.fac.Decrypt(handle, provider)
	require.NoError(t, err, "provider must hold a grant on their own share")
	return value
}

func (p *poolFixture) balance(t *testing.T, tok *token.Token, account common.Address) uint64 {
	t.Helper()
	handle, err := tok.ConfidentialBalanceOf(p.stateDB, account)
	require.NoError(t, err)
	value, err := p.fac.Decrypt(handle, account)
	require.NoError(t, err)
	return value
}

func TestNewSwapEngineValidation(t *testing.T) {
	fac, err := fhevm.NewFacility(memdb.New())
	require.NoError(t, err)
	tokenA, err := token.NewToken(fac, assetA)
	require.NoError(t, err)
	tokenB, err := token.NewToken(fac, assetB)
	require.NoError(t, err)

	_, err = NewSwapEngine(fac, tokenA, tokenB, common.Address{})
	require.ErrorIs(t, err, ErrZeroAddress)

	_, err = NewSwapEngine(nil, tokenA, tokenB, engineAddr)
	require.ErrorIs(t, err, ErrNilFacility)

	_, err = NewSwapEngine(fac, tokenA, nil, engineAddr)
	require.ErrorIs(t, err, ErrNilLedger)

	_, err = NewSwapEngine(fac, tokenA, tokenA, engineAddr)
	require.ErrorIs(t, err, ErrIdenticalAssets)
}

func TestAddLiquidity(t *testing.T) {
	p := newPoolFixture(t)

	p.addLiquidity(t, 5800, 2)

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(5800), reserveA)
	require.Equal(t, uint64(2), reserveB)
	require.Equal(t, uint64(5800), p.totalLiquidity(t))
	require.Equal(t, uint64(5800), p.share(t, trader))
	require.Equal(t, uint64(4200), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(8), p.balance(t, p.tokenB, trader))

	last := p.stateDB.logs[len(p.stateDB.logs)-1]
	require.Equal(t, TopicLiquidityAdded, last.Topics[0])
	require.Equal(t, common.BytesToHash(trader.Bytes()), last.Topics[1])
}

func TestAddLiquidityRatioMismatch(t *testing.T) {
	p := newPoolFixture(t)

	// 5000 != 2 * Price: the deposit completes as a no-op, it does not
	// revert and it does not move either leg in isolation.
	ctA, proofA := p.encrypt(t, 5000)
	ctB, proofB := p.encrypt(t, 2)
	require.NoError(t, p.engine.AddLiquidity(p.stateDB, trader, ctA, proofA, ctB, proofB))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(0), reserveA)
	require.Equal(t, uint64(0), reserveB)
	require.Equal(t, uint64(0), p.totalLiquidity(t))
	require.Equal(t, uint64(10000), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(10), p.balance(t, p.tokenB, trader))

	// The event trail looks the same as a successful deposit
	last := p.stateDB.logs[len(p.stateDB.logs)-1]
	require.Equal(t, TopicLiquidityAdded, last.Topics[0])
}

func TestAddLiquidityBadProof(t *testing.T) {
	p := newPoolFixture(t)

	ctA, proofA := p.encrypt(t, 5800)
	ctB, proofB := p.encrypt(t, 2)
	proofA[0] ^= 0xff

	// Proof failures carry no information about encrypted values and are
	// the one validation that fails loudly.
	err := p.engine.AddLiquidity(p.stateDB, trader, ctA, proofA, ctB, proofB)
	require.ErrorIs(t, err, fhevm.ErrProofMismatch)
}

func TestRemoveLiquidity(t *testing.T) {
	p := newPoolFixture(t)
	p.addLiquidity(t, 5800, 2)

	ct, proof := p.encrypt(t, 2900)
	require.NoError(t, p.engine.RemoveLiquidity(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(2900), reserveA)
	require.Equal(t, uint64(1), reserveB)
	require.Equal(t, uint64(2900), p.totalLiquidity(t))
	require.Equal(t, uint64(2900), p.share(t, trader))
	require.Equal(t, uint64(7100), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(9), p.balance(t, p.tokenB, trader))

	last := p.stateDB.logs[len(p.stateDB.logs)-1]
	require.Equal(t, TopicLiquidityRemoved, last.Topics[0])
}

func TestRemoveLiquidityClampsToShare(t *testing.T) {
	p := newPoolFixture(t)
	p.addLiquidity(t, 5800, 2)

	ct, proof := p.encrypt(t, 99999)
	require.NoError(t, p.engine.RemoveLiquidity(p.stateDB, trader, ct, proof))

	// Asking above the held share burns nothing
	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(5800), reserveA)
	require.Equal(t, uint64(2), reserveB)
	require.Equal(t, uint64(5800), p.share(t, trader))
	require.Equal(t, uint64(4200), p.balance(t, p.tokenA, trader))
}

func TestRemoveLiquidityFloorsAssetB(t *testing.T) {
	p := newPoolFixture(t)
	p.addLiquidity(t, 5800, 2)

	// 100 shares pay 100 A and floor(100/Price) = 0 B; the fractional B
	// remainder stays in the pool.
	ct, proof := p.encrypt(t, 100)
	require.NoError(t, p.engine.RemoveLiquidity(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(5700), reserveA)
	require.Equal(t, uint64(2), reserveB)
	require.Equal(t, uint64(5700), p.share(t, trader))
	require.Equal(t, uint64(4300), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(8), p.balance(t, p.tokenB, trader))
}

func TestRemoveLiquidityInsufficientReserves(t *testing.T) {
	p := newPoolFixture(t)
	require.NoError(t, p.tokenA.Mint(p.stateDB, trader, 10000))

	p.addLiquidity(t, 5800, 2)

	// Drain the entire B reserve through a swap, then try to exit in full:
	// the B leg cannot be covered, so burn and both payouts collapse to
	// zero together.
	ct, proof := p.encrypt(t, 5800)
	require.NoError(t, p.engine.SwapAforB(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(11600), reserveA)
	require.Equal(t, uint64(0), reserveB)

	ct, proof = p.encrypt(t, 5800)
	require.NoError(t, p.engine.RemoveLiquidity(p.stateDB, trader, ct, proof))

	reserveA, reserveB = p.reserves(t)
	require.Equal(t, uint64(11600), reserveA)
	require.Equal(t, uint64(0), reserveB)
	require.Equal(t, uint64(5800), p.share(t, trader))
	require.Equal(t, uint64(5800), p.totalLiquidity(t))
}

func TestSwapAforB(t *testing.T) {
	p := newPoolFixture(t)
	p.addLiquidity(t, 5800, 2)

	ct, proof := p.encrypt(t, 2900)
	require.NoError(t, p.engine.SwapAforB(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(8700), reserveA)
	require.Equal(t, uint64(1), reserveB)
	require.Equal(t, uint64(1300), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(9), p.balance(t, p.tokenB, trader))

	last := p.stateDB.logs[len(p.stateDB.logs)-1]
	require.Equal(t, TopicSwapExecuted, last.Topics[0])
	require.Equal(t, common.BytesToHash(assetA.Bytes()), last.Topics[2])
	require.Equal(t, common.BytesToHash(assetB.Bytes()), last.Topics[3])
}

func TestSwapBforA(t *testing.T) {
	p := newPoolFixture(t)
	p.addLiquidity(t, 5800, 2)

	ct, proof := p.encrypt(t, 1)
	require.NoError(t, p.engine.SwapBforA(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(2900), reserveA)
	require.Equal(t, uint64(3), reserveB)
	require.Equal(t, uint64(7100), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(7), p.balance(t, p.tokenB, trader))
}

func TestSwapFloorsOutput(t *testing.T) {
	p := newPoolFixture(t)
	p.addLiquidity(t, 5800, 2)

	// 3000 A buys floor(3000/Price) = 1 B; the full input is still taken
	ct, proof := p.encrypt(t, 3000)
	require.NoError(t, p.engine.SwapAforB(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(8800), reserveA)
	require.Equal(t, uint64(1), reserveB)
	require.Equal(t, uint64(1200), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(9), p.balance(t, p.tokenB, trader))
}

func TestSwapInsufficientLiquidity(t *testing.T) {
	p := newPoolFixture(t)

	// Empty pool: both legs zero together, nothing reverts
	ct, proof := p.encrypt(t, 2900)
	require.NoError(t, p.engine.SwapAforB(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(0), reserveA)
	require.Equal(t, uint64(0), reserveB)
	require.Equal(t, uint64(10000), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(10), p.balance(t, p.tokenB, trader))

	last := p.stateDB.logs[len(p.stateDB.logs)-1]
	require.Equal(t, TopicSwapExecuted, last.Topics[0])
}

func TestGrantDiscipline(t *testing.T) {
	p := newPoolFixture(t)
	p.addLiquidity(t, 5800, 2)

	shareHandle, err := p.engine.LiquidityOf(p.stateDB, trader)
	require.NoError(t, err)
	reserveHandleA, reserveHandleB, err := p.engine.GetReserves(p.stateDB)
	require.NoError(t, err)
	totalHandle, err := p.engine.TotalLiquidity(p.stateDB)
	require.NoError(t, err)

	// Stored accumulators all carry the engine self-grant; the provider
	// can read their own share and nothing else.
	require.True(t, p.fac.IsAllowed(shareHandle, engineAddr))
	require.True(t, p.fac.IsAllowed(shareHandle, trader))
	require.True(t, p.fac.IsAllowed(reserveHandleA, engineAddr))
	require.True(t, p.fac.IsAllowed(reserveHandleB, engineAddr))
	require.True(t, p.fac.IsAllowed(totalHandle, engineAddr))
	require.False(t, p.fac.IsAllowed(reserveHandleA, trader))
	require.False(t, p.fac.IsAllowed(reserveHandleB, trader))
}

func TestEmptyPoolReads(t *testing.T) {
	p := newPoolFixture(t)

	// First reads materialize encrypted zeros, not errors
	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(0), reserveA)
	require.Equal(t, uint64(0), reserveB)
	require.Equal(t, uint64(0), p.totalLiquidity(t))

	// The implicit-zero share carries the provider grant from the start:
	// a provider who never deposited can still decrypt their own share.
	require.Equal(t, uint64(0), p.share(t, trader))

	handle, err := p.engine.LiquidityOf(p.stateDB, trader)
	require.NoError(t, err)
	require.True(t, p.fac.IsAllowed(handle, engineAddr))
	require.True(t, p.fac.IsAllowed(handle, trader))
}

func TestMultipleProviders(t *testing.T) {
	p := newPoolFixture(t)
	require.NoError(t, p.tokenA.Mint(p.stateDB, partner, 10000))
	require.NoError(t, p.tokenB.Mint(p.stateDB, partner, 10))
	p.tokenA.SetOperator(p.stateDB, partner, engineAddr, 1<<40)
	p.tokenB.SetOperator(p.stateDB, partner, engineAddr, 1<<40)

	p.addLiquidity(t, 5800, 2)

	ctA, proofA := p.encrypt(t, 2900)
	ctB, proofB := p.encrypt(t, 1)
	require.NoError(t, p.engine.AddLiquidity(p.stateDB, partner, ctA, proofA, ctB, proofB))

	require.Equal(t, uint64(5800), p.share(t, trader))
	require.Equal(t, uint64(2900), p.share(t, partner))
	require.Equal(t, p.share(t, trader)+p.share(t, partner), p.totalLiquidity(t))

	// One provider exiting leaves the other's share untouched and keeps
	// total equal to the sum of shares.
	ct, proof := p.encrypt(t, 2900)
	require.NoError(t, p.engine.RemoveLiquidity(p.stateDB, trader, ct, proof))

	require.Equal(t, uint64(2900), p.share(t, trader))
	require.Equal(t, uint64(2900), p.share(t, partner))
	require.Equal(t, p.share(t, trader)+p.share(t, partner), p.totalLiquidity(t))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(5800), reserveA)
	require.Equal(t, uint64(2), reserveB)
}

func TestSwapBforAOverflowWraps(t *testing.T) {
	p := newPoolFixture(t)
	require.NoError(t, p.tokenB.Mint(p.stateDB, trader, 1<<63))
	p.addLiquidity(t, 5800, 2)

	// (1<<63) * Price wraps to zero mod 2^64: the wrapped output passes the
	// reserve guard, the full inbound leg is pulled and nothing is paid
	// out. The trader alone bears the loss.
	ct, proof := p.encrypt(t, 1<<63)
	require.NoError(t, p.engine.SwapBforA(p.stateDB, trader, ct, proof))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(5800), reserveA)
	require.Equal(t, uint64(1<<63)+2, reserveB)
	require.Equal(t, uint64(4200), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(8), p.balance(t, p.tokenB, trader))
}

func TestPoolLifecycle(t *testing.T) {
	p := newPoolFixture(t)

	p.addLiquidity(t, 5800, 2)

	ct, proof := p.encrypt(t, 2900)
	require.NoError(t, p.engine.SwapAforB(p.stateDB, trader, ct, proof))

	require.Equal(t, uint64(1300), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(9), p.balance(t, p.tokenB, trader))
	require.Equal(t, uint64(5800), p.share(t, trader))
	require.Equal(t, uint64(5800), p.totalLiquidity(t))

	reserveA, reserveB := p.reserves(t)
	require.Equal(t, uint64(8700), reserveA)
	require.Equal(t, uint64(1), reserveB)

	// Exit what the B reserve can still cover: 2900 shares pay 2900 A, 1 B
	ct, proof = p.encrypt(t, 2900)
	require.NoError(t, p.engine.RemoveLiquidity(p.stateDB, trader, ct, proof))

	require.Equal(t, uint64(4200), p.balance(t, p.tokenA, trader))
	require.Equal(t, uint64(10), p.balance(t, p.tokenB, trader))
	require.Equal(t, uint64(2900), p.share(t, trader))
	require.Equal(t, uint64(2900), p.totalLiquidity(t))

	reserveA, reserveB = p.reserves(t)
	require.Equal(t, uint64(5800), reserveA)
	require.Equal(t, uint64(0), reserveB)
}
