package validation

import (
	"crypto/x509"
	"fmt"

	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/receipt"
)

// ValidateKeyAttestation validates that attestationCOSE binds the receipt
// verification key given in PEM form, and that it was produced by an enclave
// whose measurements appear in knownPCRs.
//
// Parameters:
//   - attestationCOSE: raw COSE_Sign1 bytes as served by the attestation endpoint
//   - expectedPublicKeyPEM: receipt verification key to validate
//   - knownPCRs: accepted enclave measurements (see attest.LoadPCRs)
//
// Returns:
//   - attest.Result with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func ValidateKeyAttestation(attestationCOSE []byte, expectedPublicKeyPEM string, knownPCRs []attest.PCRSet, opts ...KeyOption) (*attest.Result, error) {
	pub, err := receipt.ParsePublicKeyPEM([]byte(expectedPublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse expected public key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encode expected public key: %w", err)
	}

	verifyOpts := attest.VerifyOptions{KnownPCRs: knownPCRs, ExpectedKey: der}
	for _, opt := range opts {
		opt(&verifyOpts)
	}
	return attest.Verify(attestationCOSE, verifyOpts)
}

// KeyOption adjusts key attestation verification.
type KeyOption func(*attest.VerifyOptions)

// WithRoots replaces the AWS Nitro root certificate, for development attesters.
func WithRoots(roots *x509.CertPool) KeyOption {
	return func(o *attest.VerifyOptions) { o.Roots = roots }
}
