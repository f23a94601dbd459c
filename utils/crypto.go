package utils

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PersonalMessageHash returns the EIP-191 personal_sign digest of message.
func PersonalMessageHash(message string) []byte {
	return accounts.TextHash([]byte(message))
}

// DecodeSignature decodes a 0x-prefixed hex signature.
func DecodeSignature(signature string) ([]byte, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	return sig, nil
}

// RecoverAddressFromSignature recovers the Ethereum address from a signature
func RecoverAddressFromSignature(hash []byte, signature []byte) (common.Address, error) {
	// Ensure signature is the correct length
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)

	// Adjust recovery ID for Ethereum
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	// Recover public key
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// SignPersonalMessage signs message with the EIP-191 prefix. The returned
// signature uses v in {27, 28} like wallet software does.
func SignPersonalMessage(message string, privateKey *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(PersonalMessageHash(message), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign hash: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// VerifyPersonalMessage checks that signature over message was produced by expectedAddress.
func VerifyPersonalMessage(message string, signature []byte, expectedAddress common.Address) (bool, error) {
	recoveredAddr, err := RecoverAddressFromSignature(PersonalMessageHash(message), signature)
	if err != nil {
		return false, err
	}

	return recoveredAddr == expectedAddress, nil
}
