package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/sealbid/core"
)

// CommitmentOptions holds flags for the commitment command.
type CommitmentOptions struct {
	*RootOptions
	Auction  string
	Bundle   string
	Bidder   string
	Amount   string
	Decimals int32
	Salt     string
	Scheme   string
}

type commitmentOutput struct {
	Auction core.AuctionID `json:"auction_id"`
	Bidder  core.Address   `json:"bidder"`
	Amount  core.Amount    `json:"amount"`
	Salt    core.Salt      `json:"salt"`
	Scheme  string         `json:"scheme"`
	Hash    core.Digest    `json:"hash"`
}

func NewCommitmentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitmentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commitment",
		Short: "Compute a sealed bid commitment offline",
		Long: `Compute the commitment hash a bidder submits during the commit phase.

The amount is given in whole units and scaled by --decimals. Without --salt a
random 32-byte salt is generated; keep it, it is required to reveal.

Example:
  sealbidd commitment --bundle bundle-1 --bidder 0x0a... --amount 0.6`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := computeCommitment(opts)
			if err != nil {
				return wrapExit(ExitCommandError, "commitment", err)
			}
			return writeCommitment(cmd.OutOrStdout(), opts.Format, out, opts.Decimals)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Auction, "auction", "", "auction id (0x-prefixed 32 bytes)")
	f.StringVar(&opts.Bundle, "bundle", "", "bundle id the auction id is derived from")
	f.StringVar(&opts.Bidder, "bidder", "", "bidder address (required)")
	f.StringVar(&opts.Amount, "amount", "", "bid amount in whole units (required)")
	f.Int32Var(&opts.Decimals, "decimals", core.DefaultDecimals, "decimals used to scale --amount")
	f.StringVar(&opts.Salt, "salt", "", "salt (0x-prefixed 32 bytes); random when omitted")
	f.StringVar(&opts.Scheme, "scheme", core.SchemeKeccakABI, "commitment scheme (keccak-abi|blake3)")
	_ = cmd.MarkFlagRequired("bidder")
	_ = cmd.MarkFlagRequired("amount")
	cmd.MarkFlagsMutuallyExclusive("auction", "bundle")
	cmd.MarkFlagsOneRequired("auction", "bundle")

	return cmd
}

func computeCommitment(opts *CommitmentOptions) (*commitmentOutput, error) {
	id, err := resolveAuction(opts.Auction, opts.Bundle)
	if err != nil {
		return nil, err
	}
	bidder, err := core.ParseAddress(opts.Bidder)
	if err != nil {
		return nil, fmt.Errorf("bidder: %w", err)
	}
	amount, err := core.ParseUnits(opts.Amount, opts.Decimals)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	scheme, err := core.SchemeByName(opts.Scheme)
	if err != nil {
		return nil, err
	}

	var salt core.Salt
	if opts.Salt != "" {
		if salt, err = core.ParseSalt(opts.Salt); err != nil {
			return nil, fmt.Errorf("salt: %w", err)
		}
	} else if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	return &commitmentOutput{
		Auction: id,
		Bidder:  bidder,
		Amount:  amount,
		Salt:    salt,
		Scheme:  scheme.Name(),
		Hash:    scheme.Commit(id, bidder, amount, salt),
	}, nil
}

func writeCommitment(w io.Writer, format string, out *commitmentOutput, decimals int32) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "Auction: %s\n", out.Auction)
	fmt.Fprintf(w, "Bidder:  %s\n", out.Bidder)
	fmt.Fprintf(w, "Amount:  %s (%s base units)\n", out.Amount.Format(decimals), out.Amount)
	fmt.Fprintf(w, "Salt:    %s\n", out.Salt)
	fmt.Fprintf(w, "Scheme:  %s\n", out.Scheme)
	_, err := fmt.Fprintf(w, "Hash:    %s\n", out.Hash)
	return err
}

// resolveAuction accepts a raw auction id or a bundle id.
func resolveAuction(auction, bundle string) (core.AuctionID, error) {
	switch {
	case auction != "" && bundle != "":
		return core.AuctionID{}, fmt.Errorf("--auction and --bundle are mutually exclusive")
	case auction != "":
		id, err := core.ParseAuctionID(auction)
		if err != nil {
			return id, fmt.Errorf("auction: %w", err)
		}
		return id, nil
	case bundle != "":
		return core.AuctionIDFromBundle(bundle), nil
	default:
		return core.AuctionID{}, fmt.Errorf("--auction or --bundle is required")
	}
}
