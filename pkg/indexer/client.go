// Package indexer queries BRC-20/Rune ordinal indexers over plain HTTP
// and requires unanimous byte-equal agreement across the configured set
// before trusting a result, since no single indexer is trusted on its
// own.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/omnibridge/bridge-runtime/internal/metrics"
	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/config"
)

// Balance is one ticker/rune balance entry as reported by an indexer.
type Balance struct {
	Ticker string `json:"ticker"`
	Amount string `json:"amount"` // decimal string
}

// Client queries every configured indexer URL; a result is trusted only
// when every indexer that answered returned byte-identical canonical
// JSON and at least threshold of them answered.
type Client struct {
	httpClient *http.Client
	urls       []string
	threshold  int
}

// New builds an indexer Client from configuration.
func New(cfg config.IndexerConfig) *Client {
	threshold := cfg.Threshold
	if threshold < 1 {
		threshold = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		urls:       cfg.URLs,
		threshold:  threshold,
	}
}

// Configured reports whether any indexer URLs are set.
func (c *Client) Configured() bool { return len(c.urls) > 0 }

// BRC20Balance fetches the balance of ticker at address from every
// configured indexer and returns the consensus result, or Unavailable if
// fewer than Threshold agree.
func (c *Client) BRC20Balance(ctx context.Context, address, ticker string) (*Balance, error) {
	path := fmt.Sprintf("/ordinals/v1/brc-20/balances/%s", address)
	return c.consensusBalance(ctx, path, ticker)
}

// RuneBalance fetches a rune balance at address from every configured
// indexer and returns the consensus result.
func (c *Client) RuneBalance(ctx context.Context, address, runeName string) (*Balance, error) {
	path := fmt.Sprintf("/runes/v1/addresses/%s/balances", address)
	return c.consensusBalance(ctx, path, runeName)
}

func (c *Client) consensusBalance(ctx context.Context, path, ticker string) (*Balance, error) {
	if len(c.urls) == 0 {
		return nil, bridgeerr.Initialization("indexer: no indexer urls configured")
	}

	type result struct {
		canonical []byte
		balance   *Balance
		err       error
	}

	results := make([]result, len(c.urls))
	var wg sync.WaitGroup
	for i, base := range c.urls {
		wg.Add(1)
		go func(i int, base string) {
			defer wg.Done()
			canonical, bal, err := c.fetchCanonical(ctx, base+path, ticker)
			results[i] = result{canonical: canonical, balance: bal, err: err}
		}(i, base)
	}
	wg.Wait()

	// Agreement must be unanimous among the responses that succeeded: a
	// single dissenting indexer fails the whole query, however many others
	// agree with each other.
	var agreed []byte
	var winner *Balance
	succeeded := 0
	for _, r := range results {
		if r.err != nil {
			continue
		}
		succeeded++
		if agreed == nil {
			agreed = r.canonical
			winner = r.balance
			continue
		}
		if !bytes.Equal(agreed, r.canonical) {
			metrics.IndexerConsensusFailures.Inc()
			return nil, bridgeerr.Unavailable("indexer consensus: indexers returned conflicting responses")
		}
	}

	if succeeded < c.threshold {
		metrics.IndexerConsensusFailures.Inc()
		return nil, bridgeerr.Unavailable(fmt.Sprintf("indexer consensus: only %d/%d indexers responded, need %d", succeeded, len(c.urls), c.threshold))
	}
	return winner, nil
}

// fetchCanonical issues the HTTP GET and returns both the canonicalized
// (sorted-key, re-marshaled) JSON bytes used for the equality check and
// the decoded balance entry matching ticker.
func (c *Client) fetchCanonical(ctx context.Context, url, ticker string) ([]byte, *Balance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("indexer %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, nil, fmt.Errorf("indexer %s: malformed json: %w", url, err)
	}
	canonical, err := canonicalize(decoded)
	if err != nil {
		return nil, nil, err
	}

	var entries []Balance
	if raw, ok := decoded["balances"]; ok {
		asJSON, _ := json.Marshal(raw)
		_ = json.Unmarshal(asJSON, &entries)
	}
	for _, e := range entries {
		if e.Ticker == ticker {
			return canonical, &e, nil
		}
	}
	return canonical, &Balance{Ticker: ticker, Amount: "0"}, nil
}

// canonicalize re-marshals with sorted keys (encoding/json already sorts
// map keys on marshal) so two byte-different-but-semantically-equal JSON
// documents compare equal.
func canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
