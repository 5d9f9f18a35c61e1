package attest

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("attest: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

// rawDocument is the CBOR structure the NSM signs.
type rawDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// PCRs are the hex encoded platform configuration registers of interest.
type PCRs struct {
	ImageFileHash   string `json:"pcr0"`
	KernelHash      string `json:"pcr1"`
	ApplicationHash string `json:"pcr2"`
	IAMRoleHash     string `json:"pcr3,omitempty"`
	InstanceIDHash  string `json:"pcr4,omitempty"`
	SigningCertHash string `json:"pcr8,omitempty"`
}

// Document is a parsed attestation document.
type Document struct {
	ModuleID    string
	Digest      string
	Timestamp   time.Time
	PCRs        PCRs
	Certificate []byte
	CABundle    [][]byte
	PublicKey   []byte
	UserData    []byte
	Nonce       []byte
}

// coseParts splits an untagged COSE_Sign1 array:
// [protected, unprotected, payload, signature].
func coseParts(coseBytes []byte) (protected, payload, signature []byte, err error) {
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, nil, nil, fmt.Errorf("parse COSE array: %w", err)
	}
	if len(coseArray) != 4 {
		return nil, nil, nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	var ok bool
	if protected, ok = coseArray[0].([]byte); !ok {
		return nil, nil, nil, fmt.Errorf("invalid protected headers")
	}
	if payload, ok = coseArray[2].([]byte); !ok {
		return nil, nil, nil, fmt.Errorf("invalid payload in COSE structure")
	}
	if signature, ok = coseArray[3].([]byte); !ok {
		return nil, nil, nil, fmt.Errorf("invalid signature")
	}
	return protected, payload, signature, nil
}

// ParseDocument extracts and decodes the attestation document without verifying
// it.
func ParseDocument(coseBytes []byte) (*Document, error) {
	_, payload, _, err := coseParts(coseBytes)
	if err != nil {
		return nil, err
	}

	var raw rawDocument
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	return &Document{
		ModuleID:    raw.ModuleID,
		Digest:      raw.Digest,
		Timestamp:   time.UnixMilli(int64(raw.Timestamp)).UTC(),
		PCRs:        extractPCRs(raw.PCRs),
		Certificate: raw.Certificate,
		CABundle:    raw.CABundle,
		PublicKey:   raw.PublicKey,
		UserData:    raw.UserData,
		Nonce:       raw.Nonce,
	}, nil
}

// KeyUserData decodes the document's user data as a receipt key binding.
func (d *Document) KeyUserData() (*KeyUserData, error) {
	var u KeyUserData
	if err := cbor.Unmarshal(d.UserData, &u); err != nil {
		return nil, fmt.Errorf("parse key user data: %w", err)
	}
	return &u, nil
}

func formatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

func extractPCRs(rawPCRs map[uint64][]byte) PCRs {
	return PCRs{
		ImageFileHash:   formatPCR(rawPCRs[0]),
		KernelHash:      formatPCR(rawPCRs[1]),
		ApplicationHash: formatPCR(rawPCRs[2]),
		IAMRoleHash:     formatPCR(rawPCRs[3]),
		InstanceIDHash:  formatPCR(rawPCRs[4]),
		SigningCertHash: formatPCR(rawPCRs[8]),
	}
}
