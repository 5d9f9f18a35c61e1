package main

import (
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/ledgerapi"
	"github.com/cloudx-io/sealbid/receipt"
	"github.com/cloudx-io/sealbid/validation"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Server     string
	Auction    string
	Bundle     string
	ReceiptKey string
	Attested   bool
	PCRs       string
	Scheme     string
	MaxBidders int
	Decimals   int32
}

type verifyOutput struct {
	Valid          bool           `json:"valid"`
	Auction        core.AuctionID `json:"auction"`
	Sold           bool           `json:"sold"`
	Winner         core.Address   `json:"winner"`
	Amount         core.Amount    `json:"amount"`
	ReceiptChecked bool           `json:"receipt_checked"`
	KeyAttested    bool           `json:"key_attested"`
	Details        []string       `json:"details"`
}

func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Independently verify an auction outcome",
		Long: `Fetch the journal and the signed receipt of an auction from a running server
and re-derive the outcome locally.

The receipt is checked with --receipt-key, or with the key the server's enclave
attestation binds when --attested is set. Without either only the journal is
verified.

Exit codes: 0 valid, 1 invalid, 2 error.

Example:
  sealbidd verify --server http://127.0.0.1:8080 --bundle bundle-1 --receipt-key receipt.pem
  sealbidd verify --server http://10.0.0.5:8080 --bundle bundle-1 --attested --pcrs pcrs.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Server, "server", "http://127.0.0.1:8080", "sealbidd base URL")
	f.StringVar(&opts.Auction, "auction", "", "auction id (0x-prefixed 32 bytes)")
	f.StringVar(&opts.Bundle, "bundle", "", "bundle id the auction id is derived from")
	f.StringVar(&opts.ReceiptKey, "receipt-key", "", "PEM file with the receipt verification key")
	f.BoolVar(&opts.Attested, "attested", false, "take the receipt key from the server's enclave attestation")
	f.StringVar(&opts.PCRs, "pcrs", "", "JSON file of accepted enclave PCR sets (with --attested)")
	f.StringVar(&opts.Scheme, "scheme", core.SchemeKeccakABI, "commitment scheme the server uses")
	f.IntVar(&opts.MaxBidders, "max-bidders", core.DefaultMaxBidders, "bidder cap the server uses")
	f.Int32Var(&opts.Decimals, "decimals", core.DefaultDecimals, "decimals used to display amounts")
	cmd.MarkFlagsMutuallyExclusive("auction", "bundle")
	cmd.MarkFlagsOneRequired("auction", "bundle")
	cmd.MarkFlagsMutuallyExclusive("receipt-key", "attested")

	return cmd
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	ctx := cmd.Context()
	id, err := resolveAuction(opts.Auction, opts.Bundle)
	if err != nil {
		return wrapExit(ExitCommandError, "auction", err)
	}
	scheme, err := core.SchemeByName(opts.Scheme)
	if err != nil {
		return wrapExit(ExitCommandError, "scheme", err)
	}
	client := ledgerapi.NewClient(opts.Server, core.Address{})

	journal, err := client.Journal(ctx)
	if err != nil {
		return wrapExit(ExitCommandError, "fetch journal", err)
	}

	input := &validation.AuctionValidationInput{
		Events:     journal,
		Auction:    id,
		Scheme:     scheme,
		MaxBidders: opts.MaxBidders,
	}
	out := verifyOutput{Auction: id}

	var key crypto.PublicKey
	switch {
	case opts.ReceiptKey != "":
		data, err := os.ReadFile(opts.ReceiptKey)
		if err != nil {
			return wrapExit(ExitCommandError, "read receipt key", err)
		}
		if key, err = receipt.ParsePublicKeyPEM(data); err != nil {
			return wrapExit(ExitCommandError, "receipt key", err)
		}
	case opts.Attested:
		var details []string
		key, details, err = attestedKey(cmd, client, opts.PCRs)
		out.Details = append(out.Details, details...)
		if err != nil {
			return wrapExit(ExitCommandError, "attestation", err)
		}
		out.KeyAttested = key != nil
	}

	if key != nil {
		resp, err := client.Receipt(ctx, id)
		if err != nil {
			return wrapExit(ExitCommandError, "fetch receipt", err)
		}
		signed, err := resp.Signed.Decode()
		if err != nil {
			return wrapExit(ExitCommandError, "receipt", err)
		}
		input.Receipt = signed
		input.ReceiptKey = key
	}

	result, err := validation.ValidateAuction(input)
	if err != nil {
		return wrapExit(ExitCommandError, "validation", err)
	}
	out.Valid = result.IsValid() && (!opts.Attested || out.KeyAttested)
	out.Sold = result.Derived.Sold
	out.Winner = result.Derived.Winner
	out.Amount = result.Derived.Amount
	out.ReceiptChecked = result.ReceiptChecked
	out.Details = append(out.Details, result.ValidationDetails...)

	if err := writeVerify(cmd.OutOrStdout(), opts.Format, out, opts.Decimals); err != nil {
		return wrapExit(ExitCommandError, "write output", err)
	}
	if !out.Valid {
		return wrapExit(ExitFailure, "auction failed verification", nil)
	}
	return nil
}

// attestedKey fetches the enclave attestation and returns the receipt key it
// binds, or nil when the attestation does not verify.
func attestedKey(cmd *cobra.Command, client *ledgerapi.Client, pcrsPath string) (crypto.PublicKey, []string, error) {
	var known []attest.PCRSet
	if pcrsPath != "" {
		var err error
		if known, err = attest.LoadPCRs(pcrsPath); err != nil {
			return nil, nil, err
		}
	}
	att, err := client.Attestation(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	doc, err := att.Attestation.Decode()
	if err != nil {
		return nil, nil, err
	}
	result, err := validation.ValidateKeyAttestation(doc, att.PublicKey, known)
	if err != nil {
		return nil, nil, err
	}
	if !result.IsValid() {
		return nil, append([]string{"Key attestation failed"}, result.Details...), nil
	}
	key, err := receipt.ParsePublicKeyPEM([]byte(att.PublicKey))
	if err != nil {
		return nil, nil, err
	}
	return key, []string{"Receipt key attested by enclave"}, nil
}

func writeVerify(w io.Writer, format string, out verifyOutput, decimals int32) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "Auction: %s\n", out.Auction)
	if out.Sold {
		fmt.Fprintf(w, "Outcome: %s won at %s\n", out.Winner, out.Amount.Format(decimals))
	} else {
		fmt.Fprintln(w, "Outcome: unsold")
	}
	fmt.Fprintf(w, "Receipt checked: %t\n", out.ReceiptChecked)
	for _, d := range out.Details {
		fmt.Fprintf(w, "  %s\n", d)
	}
	if out.Valid {
		_, err := fmt.Fprintln(w, "VERIFIED ✓")
		return err
	}
	_, err := fmt.Fprintln(w, "NOT VERIFIED ✗")
	return err
}
