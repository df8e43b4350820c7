// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhevm implements the encrypted arithmetic facility backing the
// confidential market precompiles. Values are TFHE ciphertexts addressed by
// opaque 32-byte handles; all arithmetic is homomorphic and no operation here
// ever branches on a plaintext derived from a ciphertext. Access to handles
// is mediated by capability grants (see acl.go).
package fhevm

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	luxcrypto "github.com/luxfi/crypto"
)

// Handle type constants - must match github.com/luxfi/fhe FheUintType
const (
	TypeEbool   uint8 = 0 // FheBool - 1 bit
	TypeEuint64 uint8 = 5 // FheUint64 - 64 bits
)

var (
	ErrInvalidHandle   = errors.New("invalid ciphertext handle")
	ErrTypeMismatch    = errors.New("ciphertext type mismatch")
	ErrOperationFailed = errors.New("FHE operation failed")
	ErrProofMismatch   = errors.New("input proof does not bind ciphertext")
	ErrMalformedInput  = errors.New("malformed input ciphertext")
	ErrAccessDenied    = errors.New("no capability grant for handle")
	ErrFacilityUninit  = errors.New("TFHE facility not initialized")
)

// ctStorePrefix keys serialized ciphertexts in the backing database
var ctStorePrefix = []byte("fhect")

// Facility is the in-process encrypted arithmetic engine. Ciphertexts are
// persisted in a database keyed by handle, with a write-through memory cache.
type Facility struct {
	mu sync.RWMutex

	db  database.Database
	log log.Logger

	// cache holds deserialization-ready ciphertext bytes per handle
	cache map[common.Hash]storedCiphertext

	acl *accessList
}

type storedCiphertext struct {
	fheType uint8
	ct      []byte
}

// NewFacility creates a facility persisting ciphertexts to db.
func NewFacility(db database.Database) (*Facility, error) {
	if err := initTFHE(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFacilityUninit, err)
	}
	return &Facility{
		db:    db,
		log:   log.NewTestLogger(log.InfoLevel),
		cache: make(map[common.Hash]storedCiphertext),
		acl:   newAccessList(),
	}, nil
}

// handleOf derives the storage handle for a ciphertext
func handleOf(fheType uint8, ct []byte) common.Hash {
	h := blake3.New()
	h.Write([]byte{fheType})
	h.Write(ct)
	var handle common.Hash
	h.Digest().Read(handle[:])
	return handle
}

func storeKey(handle common.Hash) []byte {
	key := make([]byte, 0, len(ctStorePrefix)+common.HashLength)
	key = append(key, ctStorePrefix...)
	key = append(key, handle[:]...)
	return key
}

// store persists a ciphertext and returns its handle. A handle with no grant
// is unreachable by everyone including its creator; callers are expected to
// issue grants immediately after storing.
func (f *Facility) store(fheType uint8, ct []byte) (common.Hash, error) {
	if ct == nil {
		return common.Hash{}, ErrOperationFailed
	}
	handle := handleOf(fheType, ct)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.cache[handle] = storedCiphertext{fheType: fheType, ct: ct}
	if f.db != nil {
		value := append([]byte{fheType}, ct...)
		if err := f.db.Put(storeKey(handle), value); err != nil {
			return common.Hash{}, err
		}
	}
	return handle, nil
}

// load fetches a ciphertext by handle, falling back to the database
func (f *Facility) load(handle common.Hash) (storedCiphertext, error) {
	f.mu.RLock()
	sc, ok := f.cache[handle]
	f.mu.RUnlock()
	if ok {
		return sc, nil
	}

	if f.db != nil {
		value, err := f.db.Get(storeKey(handle))
		if err == nil && len(value) > 1 {
			sc = storedCiphertext{fheType: value[0], ct: value[1:]}
			f.mu.Lock()
			f.cache[handle] = sc
			f.mu.Unlock()
			return sc, nil
		}
	}
	return storedCiphertext{}, fmt.Errorf("%w: %s", ErrInvalidHandle, handle.Hex())
}

// AsEuint64 trivially encrypts a public plaintext into a fresh euint64 handle.
func (f *Facility) AsEuint64(value uint64) (common.Hash, error) {
	ct := tfheTrivialEncrypt(value, TypeEuint64)
	return f.store(TypeEuint64, ct)
}

// InputProof computes the well-formedness proof a caller must submit
// alongside an externally encrypted ciphertext.
func InputProof(ct []byte) []byte {
	return luxcrypto.Keccak256(ct)
}

// EncryptInput produces an externally-submittable ciphertext and its proof.
// Used by clients and the test harness; on-chain code only ever sees Verify.
func (f *Facility) EncryptInput(value uint64) (ct []byte, proof []byte, err error) {
	ct = tfheTrivialEncrypt(value, TypeEuint64)
	if ct == nil {
		return nil, nil, ErrOperationFailed
	}
	return ct, InputProof(ct), nil
}

// Verify checks a submitted ciphertext against its proof and admits it as an
// internal handle. Failures here are fatal and synchronous: they carry no
// information about the encrypted value.
func (f *Facility) Verify(ct []byte, proof []byte) (common.Hash, error) {
	if !bytes.Equal(proof, InputProof(ct)) {
		return common.Hash{}, ErrProofMismatch
	}
	if !tfheVerify(ct) {
		return common.Hash{}, ErrMalformedInput
	}
	return f.store(TypeEuint64, ct)
}

// TypeOf reports the handle's ciphertext type.
func (f *Facility) TypeOf(handle common.Hash) (uint8, error) {
	sc, err := f.load(handle)
	if err != nil {
		return 0, err
	}
	return sc.fheType, nil
}

func (f *Facility) binaryOp(a, b common.Hash, wantType, outType uint8, op func(x, y []byte) []byte) (common.Hash, error) {
	scA, err := f.load(a)
	if err != nil {
		return common.Hash{}, err
	}
	scB, err := f.load(b)
	if err != nil {
		return common.Hash{}, err
	}
	if scA.fheType != wantType || scB.fheType != wantType {
		return common.Hash{}, ErrTypeMismatch
	}
	out := op(scA.ct, scB.ct)
	if out == nil {
		return common.Hash{}, ErrOperationFailed
	}
	return f.store(outType, out)
}

// Add returns a handle for a + b (mod 2^64).
func (f *Facility) Add(a, b common.Hash) (common.Hash, error) {
	return f.binaryOp(a, b, TypeEuint64, TypeEuint64, tfheAdd)
}

// Sub returns a handle for a - b (mod 2^64). Callers guard against
// underflow obliviously with Le/Select; Sub itself never inspects values.
func (f *Facility) Sub(a, b common.Hash) (common.Hash, error) {
	return f.binaryOp(a, b, TypeEuint64, TypeEuint64, tfheSub)
}

// ScalarMul returns a handle for a * k with k a public constant.
func (f *Facility) ScalarMul(a common.Hash, k uint64) (common.Hash, error) {
	sc, err := f.load(a)
	if err != nil {
		return common.Hash{}, err
	}
	if sc.fheType != TypeEuint64 {
		return common.Hash{}, ErrTypeMismatch
	}
	out := tfheScalarMul(sc.ct, k)
	if out == nil {
		return common.Hash{}, ErrOperationFailed
	}
	return f.store(TypeEuint64, out)
}

// ScalarDiv returns a handle for a / k (floor) with k a public constant.
func (f *Facility) ScalarDiv(a common.Hash, k uint64) (common.Hash, error) {
	sc, err := f.load(a)
	if err != nil {
		return common.Hash{}, err
	}
	if sc.fheType != TypeEuint64 {
		return common.Hash{}, ErrTypeMismatch
	}
	out := tfheScalarDiv(sc.ct, k, TypeEuint64)
	if out == nil {
		return common.Hash{}, ErrOperationFailed
	}
	return f.store(TypeEuint64, out)
}

// Eq returns an ebool handle for a == b.
func (f *Facility) Eq(a, b common.Hash) (common.Hash, error) {
	return f.binaryOp(a, b, TypeEuint64, TypeEbool, tfheEq)
}

// Le returns an ebool handle for a <= b.
func (f *Facility) Le(a, b common.Hash) (common.Hash, error) {
	return f.binaryOp(a, b, TypeEuint64, TypeEbool, tfheLe)
}

// And returns an ebool handle for a AND b, both ebool.
func (f *Facility) And(a, b common.Hash) (common.Hash, error) {
	return f.binaryOp(a, b, TypeEbool, TypeEbool, tfheAnd)
}

// Select returns ifTrue when cond holds and ifFalse otherwise, without
// revealing cond. Both branches are always materialized.
func (f *Facility) Select(cond, ifTrue, ifFalse common.Hash) (common.Hash, error) {
	scCond, err := f.load(cond)
	if err != nil {
		return common.Hash{}, err
	}
	if scCond.fheType != TypeEbool {
		return common.Hash{}, ErrTypeMismatch
	}
	scTrue, err := f.load(ifTrue)
	if err != nil {
		return common.Hash{}, err
	}
	scFalse, err := f.load(ifFalse)
	if err != nil {
		return common.Hash{}, err
	}
	if scTrue.fheType != scFalse.fheType {
		return common.Hash{}, ErrTypeMismatch
	}
	out := tfheSelect(scCond.ct, scTrue.ct, scFalse.ct)
	if out == nil {
		return common.Hash{}, ErrOperationFailed
	}
	return f.store(scTrue.fheType, out)
}

// Decrypt reveals the plaintext behind handle to caller. The caller must hold
// a grant; this is the only path from ciphertext to plaintext and it is
// off-path by construction (test harness, decryption oracle).
func (f *Facility) Decrypt(handle common.Hash, caller common.Address) (uint64, error) {
	if !f.acl.isAllowed(handle, caller) {
		return 0, fmt.Errorf("%w: %s for %s", ErrAccessDenied, handle.Hex(), caller.Hex())
	}
	sc, err := f.load(handle)
	if err != nil {
		return 0, err
	}
	return tfheDecrypt(sc.ct).Uint64(), nil
}

// Allow issues a persistent capability grant on handle to account.
func (f *Facility) Allow(handle common.Hash, account common.Address) {
	f.acl.allow(handle, account)
}

// AllowTransient issues a grant on handle to account scoped to the current
// call; it is revoked by ClearTransient.
func (f *Facility) AllowTransient(handle common.Hash, account common.Address) {
	f.acl.allowTransient(handle, account)
}

// IsAllowed reports whether account currently holds any grant on handle.
func (f *Facility) IsAllowed(handle common.Hash, account common.Address) bool {
	return f.acl.isAllowed(handle, account)
}

// ClearTransient revokes every transient grant. The execution environment
// calls this at the end of each operation; transient grants never survive
// across calls.
func (f *Facility) ClearTransient() {
	f.acl.clearTransient()
}
