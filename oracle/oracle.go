// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle implements the off-path decryption relay. A holder of a
// capability grant submits a signed request for the plaintext behind a
// ciphertext handle; the relay consults the arithmetic facility's access
// list and releases the value only to grantees. Nothing here runs on the
// transaction path — state-machine control flow never depends on a
// decrypted value.
package oracle

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	luxcrypto "github.com/luxfi/crypto"

	"github.com/luxfi/confidential/fhevm"
)

// RequestStatus represents the status of a decryption request
type RequestStatus uint8

const (
	RequestPending RequestStatus = iota
	RequestComplete
	RequestDenied
	RequestExpired
)

var (
	ErrTooManyPending = errors.New("too many pending decryption requests")
	ErrUnknownRequest = errors.New("unknown decryption request")
	ErrBadSignature   = errors.New("malformed request signature")
	ErrRequestExpired = errors.New("decryption request expired")
	ErrRequestDenied  = errors.New("requester holds no grant for handle")
	ErrResultNotReady = errors.New("decryption result not ready")
)

// DecryptionRequest is one relay session.
type DecryptionRequest struct {
	ID          [32]byte
	Handle      common.Hash
	Requester   common.Address
	Signature   []byte
	RequestedAt uint64
	ExpiresAt   uint64
	Status      RequestStatus
	Plaintext   uint64
}

// Oracle relays grant-checked decryptions.
type Oracle struct {
	fac *fhevm.Facility
	log log.Logger

	Timeout            time.Duration
	MaxPendingRequests int

	mu       sync.RWMutex
	requests map[[32]byte]*DecryptionRequest
	nonce    uint64
}

// NewOracle creates a relay over the given facility.
func NewOracle(fac *fhevm.Facility) *Oracle {
	return &Oracle{
		fac:                fac,
		log:                log.NewTestLogger(log.InfoLevel),
		Timeout:            5 * time.Minute,
		MaxPendingRequests: 1000,
		requests:           make(map[[32]byte]*DecryptionRequest),
	}
}

// RequestDigest is the message a requester signs to ask for a decryption.
func RequestDigest(handle common.Hash, requester common.Address) []byte {
	return luxcrypto.Keccak256(handle.Bytes(), requester.Bytes())
}

// RequestDecryption opens a session. The signature is the requester's
// signature over RequestDigest; signature recovery happens at the relay
// boundary and only shape is validated here.
func (o *Oracle) RequestDecryption(requester common.Address, handle common.Hash, sig []byte) ([32]byte, error) {
	if len(sig) != 65 {
		return [32]byte{}, ErrBadSignature
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	pending := 0
	for _, req := range o.requests {
		if req.Status == RequestPending {
			pending++
		}
	}
	if pending >= o.MaxPendingRequests {
		return [32]byte{}, ErrTooManyPending
	}

	o.nonce++
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], o.nonce)

	var id [32]byte
	copy(id[:], luxcrypto.Keccak256(handle.Bytes(), requester.Bytes(), nonceBytes[:]))

	now := uint64(time.Now().Unix())
	o.requests[id] = &DecryptionRequest{
		ID:          id,
		Handle:      handle,
		Requester:   requester,
		Signature:   sig,
		RequestedAt: now,
		ExpiresAt:   now + uint64(o.Timeout.Seconds()),
		Status:      RequestPending,
	}

	o.log.Debug("decryption requested", "requester", requester, "handle", handle)
	return id, nil
}

// Fulfill resolves a pending session: denied without a grant, completed
// with the plaintext otherwise.
func (o *Oracle) Fulfill(id [32]byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[id]
	if !ok {
		return ErrUnknownRequest
	}
	if req.Status != RequestPending {
		return nil
	}
	if uint64(time.Now().Unix()) > req.ExpiresAt {
		req.Status = RequestExpired
		return ErrRequestExpired
	}

	if !o.fac.IsAllowed(req.Handle, req.Requester) {
		req.Status = RequestDenied
		o.log.Warn("decryption denied", "requester", req.Requester, "handle", req.Handle)
		return ErrRequestDenied
	}

	plaintext, err := o.fac.Decrypt(req.Handle, req.Requester)
	if err != nil {
		req.Status = RequestDenied
		return err
	}

	req.Plaintext = plaintext
	req.Status = RequestComplete
	return nil
}

// Result returns the plaintext of a completed session.
func (o *Oracle) Result(id [32]byte) (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	req, ok := o.requests[id]
	if !ok {
		return 0, ErrUnknownRequest
	}
	switch req.Status {
	case RequestComplete:
		return req.Plaintext, nil
	case RequestDenied:
		return 0, ErrRequestDenied
	case RequestExpired:
		return 0, ErrRequestExpired
	default:
		return 0, ErrResultNotReady
	}
}

// SweepExpired marks timed-out pending sessions and reports how many.
func (o *Oracle) SweepExpired() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := uint64(time.Now().Unix())
	swept := 0
	for _, req := range o.requests {
		if req.Status == RequestPending && now > req.ExpiresAt {
			req.Status = RequestExpired
			swept++
		}
	}
	return swept
}
