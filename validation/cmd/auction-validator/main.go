package main

import (
	"bytes"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/ledgerapi"
	"github.com/cloudx-io/sealbid/receipt"
	"github.com/cloudx-io/sealbid/validation"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitError   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("auction-validator", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		journalInput = flags.String("journal", "", "Journal events JSON (file path or inline JSON)")
		auctionHex   = flags.String("auction", "", "Auction id (0x-prefixed hex)")
		bundleID     = flags.String("bundle", "", "Bundle id the auction id was derived from")
		receiptInput = flags.String("receipt", "", "Receipt response JSON (file path or inline JSON)")
		receiptKey   = flags.String("receipt-key", "", "Path to the receipt verification key PEM file")
		schemeName   = flags.String("scheme", core.SchemeKeccakABI, "Commitment scheme: keccak-abi or blake3")
		maxBidders   = flags.Int("max-bidders", core.DefaultMaxBidders, "Bidder cap the ledger ran with")
		bidder       = flags.String("bidder", "", "Bidder address to check an expectation for")
		expectWinner = flags.Bool("expect-winner", false, "With --bidder: expect the bidder to have won")
		expectAmount = flags.String("expect-amount", "", "With --bidder: expected winning amount in whole units")
		decimals     = flags.Int32("decimals", core.DefaultDecimals, "Scale for --expect-amount and text output")
		outputFormat = flags.String("format", "text", "Output format: text or json")
		help         = flags.BoolP("help", "h", false, "Show usage information")
	)
	if err := flags.Parse(args); err != nil {
		return exitInvalid
	}

	if *help {
		showUsage(stdout)
		return exitValid
	}
	if *journalInput == "" || (*auctionHex == "") == (*bundleID == "") {
		showUsage(stdout)
		fmt.Fprintf(stderr, "\nError: --journal and exactly one of --auction or --bundle are required\n")
		return exitInvalid
	}
	if (*receiptInput == "") != (*receiptKey == "") {
		fmt.Fprintf(stderr, "Error: --receipt and --receipt-key must be given together\n")
		return exitInvalid
	}

	input, err := buildInput(*journalInput, *auctionHex, *bundleID, *schemeName, *maxBidders)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading journal: %v\n", err)
		return exitError
	}

	if *receiptInput != "" {
		signed, key, err := readReceipt(*receiptInput, *receiptKey)
		if err != nil {
			fmt.Fprintf(stderr, "Error reading receipt: %v\n", err)
			return exitError
		}
		input.Receipt = signed
		input.ReceiptKey = key
	}

	if *bidder != "" {
		expect, err := buildExpectation(*bidder, *expectWinner, *expectAmount, *decimals)
		if err != nil {
			fmt.Fprintf(stderr, "Error reading expectation: %v\n", err)
			return exitError
		}
		input.Expect = expect
	}

	result, err := validation.ValidateAuction(input)
	if err != nil {
		fmt.Fprintf(stderr, "Validation error: %v\n", err)
		return exitError
	}

	if *outputFormat == "json" {
		if err := outputJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error marshaling JSON: %v\n", err)
			return exitError
		}
	} else {
		outputText(stdout, result, *decimals)
	}

	if !result.IsValid() {
		return exitInvalid
	}
	return exitValid
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, "Sealed-Bid Auction Validator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Re-derives an auction outcome from the public journal and checks it against")
	fmt.Fprintln(w, "the finalize notification and, optionally, a signed receipt.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  auction-validator --journal <json> (--auction <id> | --bundle <id>) [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Required Flags:")
	fmt.Fprintln(w, "  --journal <json>                  Events from GET /v1/events (array or response object)")
	fmt.Fprintln(w, "  --auction <0x...>                 Auction id")
	fmt.Fprintln(w, "  --bundle <id>                     Bundle id (alternative to --auction)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Optional Flags:")
	fmt.Fprintln(w, "  --receipt <json>                  Response of GET /v1/auctions/{id}/receipt")
	fmt.Fprintln(w, "  --receipt-key <path>              Receipt verification key PEM (required with --receipt)")
	fmt.Fprintln(w, "  --scheme <keccak-abi|blake3>      Commitment scheme (default: keccak-abi)")
	fmt.Fprintln(w, "  --max-bidders <n>                 Bidder cap (default: 20)")
	fmt.Fprintln(w, "  --bidder <0x...>                  Check the outcome from this bidder's point of view")
	fmt.Fprintln(w, "  --expect-winner                   With --bidder: the bidder expects to have won")
	fmt.Fprintln(w, "  --expect-amount <units>           With --bidder: expected winning amount, e.g. 0.6")
	fmt.Fprintln(w, "  --format <text|json>              Output format (default: text)")
	fmt.Fprintln(w, "  --help                            Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Input Format:")
	fmt.Fprintln(w, "  --journal and --receipt accept either a file path or an inline JSON string.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  curl -s localhost:8080/v1/events > journal.json")
	fmt.Fprintln(w, "  curl -s localhost:8080/v1/auctions/0x40b7.../receipt > receipt.json")
	fmt.Fprintln(w, "  auction-validator \\")
	fmt.Fprintln(w, "    --journal journal.json --bundle scenario-a \\")
	fmt.Fprintln(w, "    --receipt receipt.json --receipt-key receipt_key.pem \\")
	fmt.Fprintln(w, "    --bidder 0x0b00000000000000000000000000000000000000 --expect-winner --expect-amount 0.6")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit Codes:")
	fmt.Fprintln(w, "  0 - Validation passed")
	fmt.Fprintln(w, "  1 - Validation failed")
	fmt.Fprintln(w, "  2 - Invalid input or runtime error")
}

func readJSONInput(input string) []byte {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	// Treat as inline JSON
	return []byte(input)
}

func buildInput(journalInput, auctionHex, bundleID, schemeName string, maxBidders int) (*validation.AuctionValidationInput, error) {
	evs, err := parseJournal(readJSONInput(journalInput))
	if err != nil {
		return nil, err
	}

	var id core.AuctionID
	if bundleID != "" {
		id = core.AuctionIDFromBundle(bundleID)
	} else if id, err = core.ParseAuctionID(auctionHex); err != nil {
		return nil, err
	}

	scheme, err := core.SchemeByName(schemeName)
	if err != nil {
		return nil, err
	}
	return &validation.AuctionValidationInput{
		Events:     evs,
		Auction:    id,
		Scheme:     scheme,
		MaxBidders: maxBidders,
	}, nil
}

// parseJournal accepts a bare event array or an EventsResponse object.
func parseJournal(data []byte) ([]events.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var evs []events.Event
		if err := json.Unmarshal(trimmed, &evs); err != nil {
			return nil, fmt.Errorf("parse events: %w", err)
		}
		return evs, nil
	}
	var page ledgerapi.EventsResponse
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("parse events response: %w", err)
	}
	if len(page.Events) == 0 {
		return nil, fmt.Errorf("journal contains no events")
	}
	return page.Events, nil
}

func readReceipt(receiptInput, keyPath string) ([]byte, crypto.PublicKey, error) {
	var resp ledgerapi.ReceiptResponse
	if err := json.Unmarshal(readJSONInput(receiptInput), &resp); err != nil {
		return nil, nil, fmt.Errorf("parse receipt response: %w", err)
	}
	if resp.Signed == "" {
		return nil, nil, fmt.Errorf("missing signed_cose_base64 field in receipt response")
	}
	signed, err := resp.Signed.Decode()
	if err != nil {
		return nil, nil, err
	}

	pemData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := receipt.ParsePublicKeyPEM(pemData)
	if err != nil {
		return nil, nil, err
	}
	return signed, key, nil
}

func buildExpectation(bidderHex string, isWinner bool, amount string, decimals int32) (*validation.Expectation, error) {
	addr, err := core.ParseAddress(bidderHex)
	if err != nil {
		return nil, err
	}
	expect := &validation.Expectation{Bidder: addr, IsWinner: isWinner}
	if amount != "" {
		a, err := core.ParseUnits(amount, decimals)
		if err != nil {
			return nil, err
		}
		expect.Amount = &a
	}
	return expect, nil
}

func outputText(w io.Writer, result *validation.AuctionValidationResult, decimals int32) {
	fmt.Fprintln(w, "Sealed-Bid Auction Validator")
	fmt.Fprintln(w, "==================================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Auction: %s\n", result.Auction)
	if result.Derived.Sold {
		fmt.Fprintf(w, "Derived Outcome: %s won at %s (%d of %d bids revealed)\n",
			result.Derived.Winner, result.Derived.Amount.Format(decimals), result.Derived.Revealed, result.Derived.Committed)
	} else {
		fmt.Fprintf(w, "Derived Outcome: unsold (%d bids committed, none revealed)\n", result.Derived.Committed)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Finalized:               %v\n", result.Finalized)
	fmt.Fprintf(w, "  Chain Valid:             %v\n", result.ChainValid)
	fmt.Fprintf(w, "  Timing Valid:            %v\n", result.TimingValid)
	fmt.Fprintf(w, "  Commitments Valid:       %v\n", result.CommitmentsValid)
	fmt.Fprintf(w, "  Winner Valid:            %v\n", result.WinnerValid)
	if result.ReceiptChecked {
		fmt.Fprintf(w, "  Receipt Valid:           %v\n", result.ReceiptValid)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", detail)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "==================================")
	if result.IsValid() {
		fmt.Fprintln(w, "VALIDATION: ✓ PASSED")
		fmt.Fprintln(w, "Exit Code: 0")
	} else {
		fmt.Fprintln(w, "VALIDATION: ✗ FAILED")
		fmt.Fprintln(w, "Exit Code: 1")
	}
}

func outputJSON(w io.Writer, result *validation.AuctionValidationResult) error {
	output := map[string]any{
		"valid":             result.IsValid(),
		"auction":           result.Auction,
		"finalized":         result.Finalized,
		"chain_valid":       result.ChainValid,
		"timing_valid":      result.TimingValid,
		"commitments_valid": result.CommitmentsValid,
		"winner_valid":      result.WinnerValid,
		"sold":              result.Derived.Sold,
		"winner":            result.Derived.Winner,
		"amount":            result.Derived.Amount,
		"details":           result.ValidationDetails,
	}
	if result.ReceiptChecked {
		output["receipt_valid"] = result.ReceiptValid
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
