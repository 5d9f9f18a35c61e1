// Package attest binds the receipt verification key to an AWS Nitro Enclave
// attestation document, and verifies such documents.
package attest

import (
	"crypto/rand"
	"errors"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
)

// ErrUnavailable is returned when no Nitro Security Module is reachable.
var ErrUnavailable = errors.New("attestation unavailable: not running inside a Nitro Enclave")

// Attester produces NSM attestation documents. *enclave.EnclaveHandle satisfies
// it; tests use Mock or DevAttester.
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NSM opens the enclave's Nitro Security Module.
func NSM() (Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return handle, nil
}

// KeyPurpose is carried in the user data of receipt key attestations.
const KeyPurpose = "sealbid.receipt-key"

// KeyUserData is the CBOR user data of a receipt key attestation.
type KeyUserData struct {
	Purpose   string `cbor:"purpose" json:"purpose"`
	Algorithm string `cbor:"algorithm" json:"algorithm"`
	KeyID     []byte `cbor:"key_id" json:"key_id"`
	// PublicKey is the PKIX DER of the receipt verification key.
	PublicKey []byte `cbor:"public_key" json:"public_key"`
}

// AttestKey asks the attester for a document whose user data binds the receipt
// key.
func AttestKey(attester Attester, publicKeyDER, keyID []byte) ([]byte, error) {
	if attester == nil {
		return nil, ErrUnavailable
	}
	userData, err := encMode.Marshal(KeyUserData{Purpose: KeyPurpose, Algorithm: "ES256", KeyID: keyID, PublicKey: publicKeyDER})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}

	doc, err := attester.Attest(enclave.AttestationOptions{
		UserData: userData,
		Nonce:    nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}
	return doc, nil
}

// Mock implements Attester with a configurable function.
type Mock struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *Mock) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}
