package attest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// awsNitroRootCA is the root certificate for AWS Nitro Enclaves
// Valid until 2049-10-28, P-384 self-signed certificate
// Source: https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html
const awsNitroRootCA = `-----BEGIN CERTIFICATE-----
MIICETCCAZagAwIBAgIRAPkxdWgbkK/hHUbMtOTn+FYwCgYIKoZIzj0EAwMwSTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoMBkFtYXpvbjEMMAoGA1UECwwDQVdTMRswGQYD
VQQDDBJhd3Mubml0cm8tZW5jbGF2ZXMwHhcNMTkxMDI4MTMyODA1WhcNNDkxMDI4
MTQyODA1WjBJMQswCQYDVQQGEwJVUzEPMA0GA1UECgwGQW1hem9uMQwwCgYDVQQL
DANBV1MxGzAZBgNVBAMMEmF3cy5uaXRyby1lbmNsYXZlczB2MBAGByqGSM49AgEG
BSuBBAAiA2IABPwCVOumCMHzaHDimtqQvkY4MpJzbolL//Zy2YlES1BR5TSksfbb
48C8WBoyt7F2Bw7eEtaaP+ohG2bnUs990d0JX28TcPQXCEPZ3BABIeTPYwEoCWZE
h8l5YoQwTcU/9KNCMEAwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUkCW1DdkF
R+eWw5b6cp3PmanfS5YwDgYDVR0PAQH/BAQDAgGGMAoGCCqGSM49BAMDA2kAMGYC
MQCjfy+Rocm9Xue4YnwWmNJVA44fA0P5W2OpYow9OYCVRaEevL8uO1XYru5xtMPW
rfMCMQCi85sWBbJwKKXdS6BptQFuZbT73o/gBh1qUxl/nNr12UO8Yfwr6wPLb+6N
IwLz3/Y=
-----END CERTIFICATE-----`

// NitroRoots returns a pool holding the AWS Nitro Enclaves root certificate.
func NitroRoots() (*x509.CertPool, error) {
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM([]byte(awsNitroRootCA)) {
		return nil, fmt.Errorf("failed to parse AWS Nitro root CA")
	}
	return roots, nil
}

// VerifyOptions selects what Verify checks beyond the signature.
type VerifyOptions struct {
	// KnownPCRs lists accepted measurements. Empty skips the PCR check and
	// reports it as not valid.
	KnownPCRs []PCRSet
	// Roots overrides the AWS Nitro root; used for development attesters.
	Roots *x509.CertPool
	// ExpectedKey, when set, must equal the key bound in the user data.
	ExpectedKey []byte
}

// Result reports every check separately, with human-readable details.
type Result struct {
	Document         *Document
	PCRsValid        bool
	CertificateValid bool
	SignatureValid   bool
	PublicKeyMatch   bool
	Details          []string
}

// IsValid returns true if all checks passed.
func (r *Result) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch
}

func (r *Result) detail(format string, args ...any) {
	r.Details = append(r.Details, fmt.Sprintf(format, args...))
}

// Verify checks a receipt key attestation: PCRs against the known sets, the
// certificate chain at the attestation timestamp, the COSE signature by the leaf
// certificate, and the key binding. An error means the document could not be
// parsed at all.
func Verify(coseBytes []byte, opts VerifyOptions) (*Result, error) {
	doc, err := ParseDocument(coseBytes)
	if err != nil {
		return nil, err
	}
	result := &Result{Document: doc}

	if match, set := ValidatePCRs(doc.PCRs, opts.KnownPCRs); match {
		result.PCRsValid = true
		result.detail("PCR measurements valid")
		result.detail("Matched PCR set: #%d (commit: %s)", set, opts.KnownPCRs[set].CommitHash)
	} else {
		result.detail("PCR0: %s (no match)", doc.PCRs.ImageFileHash)
		result.detail("PCR1: %s (no match)", doc.PCRs.KernelHash)
		result.detail("PCR2: %s (no match)", doc.PCRs.ApplicationHash)
	}

	var leaf *x509.Certificate
	switch {
	case len(doc.Certificate) == 0:
		result.detail("Missing certificate")
	case len(doc.CABundle) == 0:
		result.detail("Missing CA bundle")
	default:
		leaf, err = verifyChain(doc.Certificate, doc.CABundle, opts.Roots, doc.Timestamp)
		if err != nil {
			result.detail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified")
		}
	}

	if leaf == nil {
		// The signature can still be checked against an unchained leaf so the
		// report says which part failed.
		leaf, _ = x509.ParseCertificate(doc.Certificate)
	}
	if leaf == nil {
		result.detail("COSE signature not checked: no parsable certificate")
	} else if err := verifySignature(coseBytes, leaf); err != nil {
		result.detail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.detail("COSE signature verified")
	}

	user, err := doc.KeyUserData()
	switch {
	case err != nil:
		result.detail("User data: %v", err)
	case user.Purpose != KeyPurpose:
		result.detail("User data purpose %q is not %q", user.Purpose, KeyPurpose)
	case len(user.PublicKey) == 0:
		result.detail("User data carries no public key")
	case opts.ExpectedKey != nil && !bytes.Equal(user.PublicKey, opts.ExpectedKey):
		result.detail("Public key mismatch")
	default:
		result.PublicKeyMatch = true
		result.detail("Public key bound (%s)", user.Algorithm)
	}
	return result, nil
}

// verifyChain verifies the signing certificate against roots at the given time.
func verifyChain(certDER []byte, caBundle [][]byte, roots *x509.CertPool, at time.Time) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	intermediates := x509.NewCertPool()
	for _, caDER := range caBundle {
		caCert, err := x509.ParseCertificate(caDER)
		if err != nil {
			return nil, fmt.Errorf("parse CA certificate: %w", err)
		}
		intermediates.AddCert(caCert)
	}

	if roots == nil {
		if roots, err = NitroRoots(); err != nil {
			return nil, err
		}
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err != nil {
		return nil, fmt.Errorf("certificate chain validation failed: %w", err)
	}
	return cert, nil
}

// verifySignature checks an untagged COSE_Sign1 signed with ES384, which is what
// the NSM produces.
func verifySignature(coseBytes []byte, cert *x509.Certificate) error {
	protected, payload, signature, err := coseParts(coseBytes)
	if err != nil {
		return err
	}

	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	toBeSigned, err := sigStructure(protected, payload)
	if err != nil {
		return err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(toBeSigned, signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}

// sigStructure builds ["Signature1", protected, external_aad, payload] with an
// empty external_aad.
func sigStructure(protected, payload []byte) ([]byte, error) {
	b, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	if err != nil {
		return nil, fmt.Errorf("marshal Sig_structure: %w", err)
	}
	return b, nil
}
