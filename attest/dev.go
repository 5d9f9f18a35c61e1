package attest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// DevAttester signs attestation documents with a throwaway P-384 CA so the full
// verification path can run outside an enclave. Its documents only verify
// against Roots().
type DevAttester struct {
	ModuleID string
	Now      func() time.Time

	root    *x509.Certificate
	leaf    *x509.Certificate
	signer  cose.Signer
}

// DevPCRs are the measurements DevAttester reports.
var DevPCRs = PCRSet{
	PCR0:       fmt.Sprintf("%x", bytes.Repeat([]byte{0xa0}, 48)),
	PCR1:       fmt.Sprintf("%x", bytes.Repeat([]byte{0xa1}, 48)),
	PCR2:       fmt.Sprintf("%x", bytes.Repeat([]byte{0xa2}, 48)),
	CommitHash: "dev",
}

// NewDevAttester creates a root and a leaf certificate valid around now.
func NewDevAttester(now time.Time) (*DevAttester, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate root key: %w", err)
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"sealbid"}, CommonName: "sealbid dev attestation root"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{Organization: []string{"sealbid"}, CommonName: "sealbid dev enclave"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create leaf certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, leafKey)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}
	return &DevAttester{
		ModuleID: "sealbid-dev",
		Now:      func() time.Time { return now },
		root:     root,
		leaf:     leaf,
		signer:   signer,
	}, nil
}

// Roots returns a pool holding the dev root certificate.
func (d *DevAttester) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(d.root)
	return pool
}

// Attest builds and signs an attestation document in the NSM layout.
func (d *DevAttester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	pcrs := make(map[uint64][]byte, 3)
	for i, hexPCR := range []string{DevPCRs.PCR0, DevPCRs.PCR1, DevPCRs.PCR2} {
		b, err := hex.DecodeString(hexPCR)
		if err != nil {
			return nil, err
		}
		pcrs[uint64(i)] = b
	}

	payload, err := cbor.Marshal(rawDocument{
		ModuleID:    d.ModuleID,
		Digest:      "SHA384",
		Timestamp:   uint64(d.Now().UnixMilli()),
		PCRs:        pcrs,
		Certificate: d.leaf.Raw,
		CABundle:    [][]byte{d.root.Raw},
		UserData:    options.UserData,
		Nonce:       options.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("encode attestation document: %w", err)
	}

	protected, err := cbor.Marshal(map[int]int{1: int(cose.AlgorithmES384)})
	if err != nil {
		return nil, err
	}
	toBeSigned, err := sigStructure(protected, payload)
	if err != nil {
		return nil, err
	}
	signature, err := d.signer.Sign(rand.Reader, toBeSigned)
	if err != nil {
		return nil, fmt.Errorf("sign attestation document: %w", err)
	}

	return cbor.Marshal([]any{protected, map[any]any{}, payload, signature})
}
