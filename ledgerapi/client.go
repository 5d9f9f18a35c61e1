package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
)

// Client is a minimal client for the sealbid HTTP API.
type Client struct {
	BaseURL string
	// Caller is sent in CallerHeader when non-zero.
	Caller core.Address
	HTTP   *http.Client
}

// NewClient returns a client for baseURL with a 30 second timeout.
func NewClient(baseURL string, caller core.Address) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Caller:  caller,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Events fetches one page of the journal starting at from.
func (c *Client) Events(ctx context.Context, from uint64, limit int) (*EventsResponse, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatUint(from, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp EventsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Journal fetches the whole journal, page by page.
func (c *Client) Journal(ctx context.Context) ([]events.Event, error) {
	var all []events.Event
	from := uint64(1)
	for {
		page, err := c.Events(ctx, from, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if len(page.Events) == 0 || page.Next > page.Head {
			return all, nil
		}
		from = page.Next
	}
}

// Receipt fetches the signed receipt of a finalized auction.
func (c *Client) Receipt(ctx context.Context, id core.AuctionID) (*ReceiptResponse, error) {
	var resp ReceiptResponse
	if err := c.do(ctx, http.MethodGet, "/v1/auctions/"+id.String()+"/receipt", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Attestation fetches the enclave attestation of the receipt key.
func (c *Client) Attestation(ctx context.Context) (*AttestationResponse, error) {
	var resp AttestationResponse
	if err := c.do(ctx, http.MethodGet, "/v1/attestation", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Commit submits the caller's sealed commitment.
func (c *Client) Commit(ctx context.Context, id core.AuctionID, hash core.Digest) (*core.BidCommitment, error) {
	var resp core.BidCommitment
	if err := c.do(ctx, http.MethodPost, "/v1/auctions/"+id.String()+"/commitments", CommitRequest{Hash: hash}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reveal opens the caller's commitment.
func (c *Client) Reveal(ctx context.Context, id core.AuctionID, amount core.Amount, salt core.Salt) (*core.BidCommitment, error) {
	var resp core.BidCommitment
	if err := c.do(ctx, http.MethodPost, "/v1/auctions/"+id.String()+"/reveals", RevealRequest{Amount: amount, Salt: salt}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends a JSON request. Non-2xx responses are returned as *ErrorResponse.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !c.Caller.IsZero() {
		req.Header.Set(CallerHeader, c.Caller.String())
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &ErrorResponse{}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
