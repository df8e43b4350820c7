// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"math/big"
	"sync"

	"github.com/luxfi/fhe"
)

var (
	// Singleton TFHE components, shared by every facility instance
	tfheOnce  sync.Once
	evaluator *fhe.BitwiseEvaluator
	encryptor *fhe.BitwiseEncryptor
	decryptor *fhe.BitwiseDecryptor
	secretKey *fhe.SecretKey
	publicKey *fhe.PublicKey
	params    fhe.Parameters
	initErr   error
)

// initTFHE initializes the TFHE parameter set, keys and operators.
func initTFHE() error {
	tfheOnce.Do(func() {
		var err error

		params, err = fhe.NewParametersFromLiteral(fhe.PN10QP27)
		if err != nil {
			initErr = err
			return
		}

		kg := fhe.NewKeyGenerator(params)
		secretKey, publicKey = kg.GenKeyPair()
		bsk := kg.GenBootstrapKey(secretKey)

		encryptor = fhe.NewBitwiseEncryptor(params, secretKey)
		decryptor = fhe.NewBitwiseDecryptor(params, secretKey)
		evaluator = fhe.NewBitwiseEvaluator(params, bsk, secretKey)
	})

	return initErr
}

// fheTypeToTFHEType converts a handle type constant to the TFHE FheUintType
func fheTypeToTFHEType(fheType uint8) fhe.FheUintType {
	switch fheType {
	case TypeEbool:
		return fhe.FheBool
	case TypeEuint64:
		return fhe.FheUint64
	default:
		return fhe.FheUint64
	}
}

// serializeBitCiphertext converts BitCiphertext to bytes
func serializeBitCiphertext(ct *fhe.BitCiphertext) []byte {
	if ct == nil {
		return nil
	}
	data, err := ct.MarshalBinary()
	if err != nil {
		return nil
	}
	return data
}

// deserializeBitCiphertext converts bytes to BitCiphertext
func deserializeBitCiphertext(data []byte) *fhe.BitCiphertext {
	if len(data) == 0 {
		return nil
	}
	ct := new(fhe.BitCiphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil
	}
	return ct
}

// deserializeCiphertext converts bytes to a single Ciphertext (encrypted bit)
func deserializeCiphertext(data []byte) *fhe.Ciphertext {
	if len(data) == 0 {
		return nil
	}
	ct := new(fhe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil
	}
	return ct
}

func tfheAdd(lhs, rhs []byte) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	ctLhs := deserializeBitCiphertext(lhs)
	ctRhs := deserializeBitCiphertext(rhs)
	if ctLhs == nil || ctRhs == nil {
		return nil
	}

	result, err := evaluator.Add(ctLhs, ctRhs)
	if err != nil {
		return nil
	}

	return serializeBitCiphertext(result)
}

func tfheSub(lhs, rhs []byte) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	ctLhs := deserializeBitCiphertext(lhs)
	ctRhs := deserializeBitCiphertext(rhs)
	if ctLhs == nil || ctRhs == nil {
		return nil
	}

	result, err := evaluator.Sub(ctLhs, ctRhs)
	if err != nil {
		return nil
	}

	return serializeBitCiphertext(result)
}

// Comparisons return a 1-bit encrypted boolean.

func tfheEq(lhs, rhs []byte) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	ctLhs := deserializeBitCiphertext(lhs)
	ctRhs := deserializeBitCiphertext(rhs)
	if ctLhs == nil || ctRhs == nil {
		return nil
	}

	result, err := evaluator.Eq(ctLhs, ctRhs)
	if err != nil {
		return nil
	}

	boolCt := fhe.WrapBoolCiphertext(result)
	return serializeBitCiphertext(boolCt)
}

func tfheLe(lhs, rhs []byte) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	ctLhs := deserializeBitCiphertext(lhs)
	ctRhs := deserializeBitCiphertext(rhs)
	if ctLhs == nil || ctRhs == nil {
		return nil
	}

	result, err := evaluator.Le(ctLhs, ctRhs)
	if err != nil {
		return nil
	}

	boolCt := fhe.WrapBoolCiphertext(result)
	return serializeBitCiphertext(boolCt)
}

func tfheAnd(lhs, rhs []byte) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	ctLhs := deserializeBitCiphertext(lhs)
	ctRhs := deserializeBitCiphertext(rhs)
	if ctLhs == nil || ctRhs == nil {
		return nil
	}

	result, err := evaluator.And(ctLhs, ctRhs)
	if err != nil {
		return nil
	}

	return serializeBitCiphertext(result)
}

func tfheSelect(control, ifTrue, ifFalse []byte) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	// Control is a single encrypted bit
	ctControl := deserializeCiphertext(control)
	ctTrue := deserializeBitCiphertext(ifTrue)
	ctFalse := deserializeBitCiphertext(ifFalse)
	if ctControl == nil || ctTrue == nil || ctFalse == nil {
		return nil
	}

	result, err := evaluator.Select(ctControl, ctTrue, ctFalse)
	if err != nil {
		return nil
	}

	return serializeBitCiphertext(result)
}

func tfheScalarMul(ct []byte, scalar uint64) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	ctIn := deserializeBitCiphertext(ct)
	if ctIn == nil {
		return nil
	}

	result, err := evaluator.ScalarMul(ctIn, scalar)
	if err != nil {
		return nil
	}

	return serializeBitCiphertext(result)
}

func tfheScalarDiv(ct []byte, scalar uint64, fheType uint8) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	if scalar == 0 {
		return nil
	}

	ctIn := deserializeBitCiphertext(ct)
	if ctIn == nil {
		return nil
	}

	// Encrypt the scalar and run encrypted binary long division
	targetType := fheTypeToTFHEType(fheType)
	ctScalar := encryptor.EncryptUint64(scalar, targetType)

	result, err := evaluator.Div(ctIn, ctScalar)
	if err != nil {
		return nil
	}

	return serializeBitCiphertext(result)
}

func tfheVerify(ct []byte) bool {
	return deserializeBitCiphertext(ct) != nil
}

func tfheDecrypt(ct []byte) *big.Int {
	if err := initTFHE(); err != nil {
		return big.NewInt(0)
	}

	ctIn := deserializeBitCiphertext(ct)
	if ctIn == nil {
		return big.NewInt(0)
	}

	plaintext := decryptor.DecryptUint64(ctIn)
	return new(big.Int).SetUint64(plaintext)
}

func tfheTrivialEncrypt(plaintext uint64, toType uint8) []byte {
	if err := initTFHE(); err != nil {
		return nil
	}

	targetType := fheTypeToTFHEType(toType)
	ct := encryptor.EncryptUint64(plaintext, targetType)

	return serializeBitCiphertext(ct)
}
