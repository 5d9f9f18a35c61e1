package validation

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/receipt"
)

func TestValidateKeyAttestation(t *testing.T) {
	dev, err := attest.NewDevAttester(t0)
	assert.NoError(t, err)
	signer, err := receipt.GenerateSigner()
	assert.NoError(t, err)

	der, err := signer.PublicKeyDER()
	assert.NoError(t, err)
	doc, err := attest.AttestKey(dev, der, signer.KeyID())
	assert.NoError(t, err)
	pemKey, err := signer.PublicKeyPEM()
	assert.NoError(t, err)

	result, err := ValidateKeyAttestation(doc, pemKey, []attest.PCRSet{attest.DevPCRs}, WithRoots(dev.Roots()))
	assert.NoError(t, err)
	check.True(t, result.IsValid())

	other, err := receipt.GenerateSigner()
	assert.NoError(t, err)
	otherPEM, err := other.PublicKeyPEM()
	assert.NoError(t, err)
	result, err = ValidateKeyAttestation(doc, otherPEM, []attest.PCRSet{attest.DevPCRs}, WithRoots(dev.Roots()))
	assert.NoError(t, err)
	check.False(t, result.PublicKeyMatch)
	check.False(t, result.IsValid())

	// Without the dev roots the chain does not reach the AWS Nitro root.
	result, err = ValidateKeyAttestation(doc, pemKey, []attest.PCRSet{attest.DevPCRs})
	assert.NoError(t, err)
	check.False(t, result.CertificateValid)

	_, err = ValidateKeyAttestation(doc, "not a key", nil)
	check.Error(t, err)
}
