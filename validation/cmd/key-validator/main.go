package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/ledgerapi"
	"github.com/cloudx-io/sealbid/validation"
)

// plainTextHandler is a simple slog handler that writes plain text without
// timestamps or log levels - appropriate for CLI output
type plainTextHandler struct{ w io.Writer }

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(h.w, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := slog.New(&plainTextHandler{w: stdout})

	flags := pflag.NewFlagSet("key-validator", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		attestationPath = flags.String("attestation", "", "Path to attestation response JSON file (required)")
		publicKeyPath   = flags.String("public-key", "", "Path to receipt public key PEM file (required)")
		pcrsPath        = flags.String("pcrs", "", "Path to known PCR sets YAML file (required)")
		outputFormat    = flags.String("format", "text", "Output format: text or json")
		help            = flags.BoolP("help", "h", false, "Show usage information")
	)
	if err := flags.Parse(args); err != nil {
		return 1
	}

	// Show help
	if *help || *attestationPath == "" || *publicKeyPath == "" || *pcrsPath == "" {
		showUsage(logger)
		if *help {
			return 0
		}
		return 1
	}

	attestationResponse, err := readAttestationResponse(*attestationPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading attestation: %v\n", err)
		return 2
	}
	coseBytes, err := attestationResponse.Attestation.Decode()
	if err != nil {
		fmt.Fprintf(stderr, "Error reading attestation: %v\n", err)
		return 2
	}

	publicKey, err := os.ReadFile(*publicKeyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading public key: %v\n", err)
		return 2
	}

	knownPCRs, err := attest.LoadPCRs(*pcrsPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading PCR sets: %v\n", err)
		return 2
	}

	// Validate using library
	result, err := validation.ValidateKeyAttestation(coseBytes, string(publicKey), knownPCRs)
	if err != nil {
		fmt.Fprintf(stderr, "Validation error: %v\n", err)
		return 2
	}

	if *outputFormat == "json" {
		if err := outputJSON(logger, result); err != nil {
			fmt.Fprintf(stderr, "Error marshaling JSON: %v\n", err)
			return 2
		}
	} else {
		outputText(logger, result)
	}

	if !result.IsValid() {
		return 1
	}
	return 0
}

func showUsage(logger *slog.Logger) {
	logger.Info("Receipt Key Attestation Validator")
	logger.Info("")
	logger.Info("Validates that the key signing auction receipts was generated inside an")
	logger.Info("AWS Nitro Enclave running a known image.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  key-validator --attestation <path> --public-key <pem> --pcrs <yaml> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --attestation <path>              Response of GET /v1/attestation saved as JSON")
	logger.Info("  --public-key <path>               Receipt public key PEM file")
	logger.Info("  --pcrs <path>                     Known PCR sets (YAML or JSON)")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Examples:")
	logger.Info("  key-validator --attestation attestation.json --public-key receipt_key.pem --pcrs pcrs.yaml")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readAttestationResponse(path string) (*ledgerapi.AttestationResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var resp ledgerapi.AttestationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if resp.Attestation == "" {
		return nil, fmt.Errorf("missing attestation_cose_base64 field in attestation response")
	}
	return &resp, nil
}

func outputText(logger *slog.Logger, result *attest.Result) {
	logger.Info("Receipt Key Attestation Validator")
	logger.Info("=================================")
	logger.Info("")

	if result.Document != nil {
		logger.Info(fmt.Sprintf("Module:    %s", result.Document.ModuleID))
		logger.Info(fmt.Sprintf("Timestamp: %s", result.Document.Timestamp.Format("2006-01-02T15:04:05Z07:00")))
		logger.Info("")
	}

	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  PCRs Valid:        %v", result.PCRsValid))
	logger.Info(fmt.Sprintf("  Certificate Valid: %v", result.CertificateValid))
	logger.Info(fmt.Sprintf("  Signature Valid:   %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Public Key Match:  %v", result.PublicKeyMatch))

	logger.Info("")
	logger.Info("Details:")
	for _, detail := range result.Details {
		logger.Info("  - " + detail)
	}

	logger.Info("")
	logger.Info("=================================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
		logger.Info("Exit Code: 0")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
		logger.Info("Exit Code: 1")
	}
}

func outputJSON(logger *slog.Logger, result *attest.Result) error {
	output := map[string]any{
		"valid":             result.IsValid(),
		"pcrs_valid":        result.PCRsValid,
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"public_key_match":  result.PublicKeyMatch,
		"details":           result.Details,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
