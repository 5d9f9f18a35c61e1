package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/ledgerapi"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Server   string
	From     uint64
	Auction  string
	Bundle   string
	Types    []string
	Decimals int32
}

func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Replay the journal from a running server",
		Long: `Replay the journal of a running sealbidd server from a sequence number.

The fetched range is checked against its hash chain before it is printed.

Example:
  sealbidd events --server http://127.0.0.1:8080 --bundle bundle-1
  sealbidd events --server http://127.0.0.1:8080 --from 40 --type AuctionFinalized --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Server, "server", "http://127.0.0.1:8080", "sealbidd base URL")
	f.Uint64Var(&opts.From, "from", 1, "first sequence number to replay")
	f.StringVar(&opts.Auction, "auction", "", "only events of this auction id")
	f.StringVar(&opts.Bundle, "bundle", "", "only events of the auction derived from this bundle id")
	f.StringSliceVar(&opts.Types, "type", nil, "only events of these types (repeatable)")
	f.Int32Var(&opts.Decimals, "decimals", core.DefaultDecimals, "decimals used to display amounts")
	cmd.MarkFlagsMutuallyExclusive("auction", "bundle")

	return cmd
}

func runEvents(cmd *cobra.Command, opts *EventsOptions) error {
	if opts.From == 0 {
		return wrapExit(ExitCommandError, "--from must be at least 1", nil)
	}
	var filter events.Filter
	if opts.Auction != "" || opts.Bundle != "" {
		id, err := resolveAuction(opts.Auction, opts.Bundle)
		if err != nil {
			return wrapExit(ExitCommandError, "auction", err)
		}
		filter.Auction = &id
	}
	for _, t := range opts.Types {
		filter.Types = append(filter.Types, events.Type(t))
	}

	client := ledgerapi.NewClient(opts.Server, core.Address{})
	evs, headDigest, err := fetchRange(cmd, client, opts.From)
	if err != nil {
		return wrapExit(ExitCommandError, "fetch journal", err)
	}
	if len(evs) > 0 {
		if err := events.VerifyChain(evs[0].Prev, evs); err != nil {
			return wrapExit(ExitFailure, "journal chain broken", err)
		}
		if evs[len(evs)-1].Digest != headDigest {
			return wrapExit(ExitFailure, "journal does not end at the reported head", nil)
		}
	}

	matched := make([]events.Event, 0, len(evs))
	for _, e := range evs {
		if filter.Match(e) {
			matched = append(matched, e)
		}
	}
	return writeEvents(cmd.OutOrStdout(), opts.Format, matched, opts.Decimals)
}

// fetchRange pages through the journal from seq from to the head.
func fetchRange(cmd *cobra.Command, client *ledgerapi.Client, from uint64) ([]events.Event, core.Digest, error) {
	var all []events.Event
	var headDigest core.Digest
	for {
		page, err := client.Events(cmd.Context(), from, 0)
		if err != nil {
			return nil, headDigest, err
		}
		all = append(all, page.Events...)
		headDigest = page.HeadDigest
		if len(page.Events) == 0 || page.Next > page.Head {
			return all, headDigest, nil
		}
		from = page.Next
	}
}

func writeEvents(w io.Writer, format string, evs []events.Event, decimals int32) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(evs)
	}
	if len(evs) == 0 {
		_, err := fmt.Fprintln(w, "no matching events")
		return err
	}
	return events.WriteText(w, evs, decimals)
}
