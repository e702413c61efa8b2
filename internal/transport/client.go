package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const maxResponseBytes = 4 << 20

// ErrChaosDrop is returned for requests discarded by chaos injection.
var ErrChaosDrop = errors.New("chaos: dropped outbound request")

// ChaosConfig makes outbound requests deliberately unreliable so intermittent
// links can be reproduced in the field. When Enabled is false the client
// behaves normally.
type ChaosConfig struct {
	Enabled   bool
	DropProb  float64
	DelayProb float64
	DelayMin  time.Duration
	DelayMax  time.Duration
}

// DefaultChaosConfig drops one request in ten and delays a third of them.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		Enabled:   true,
		DropProb:  0.10,
		DelayProb: 0.30,
		DelayMin:  100 * time.Millisecond,
		DelayMax:  2 * time.Second,
	}
}

// Client is a small JSON-over-HTTP client with a bounded request timeout.
type Client struct {
	hc *http.Client

	mu    sync.Mutex
	rng   *rand.Rand
	chaos ChaosConfig

	requests atomic.Uint64
	dropped  atomic.Uint64
	delayed  atomic.Uint64
}

// Stats counts outbound requests for the status surface.
type Stats struct {
	Requests uint64 `json:"requests"`
	Dropped  uint64 `json:"dropped"`
	Delayed  uint64 `json:"delayed"`
}

// NewClient returns a client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		hc:  &http.Client{Timeout: timeout},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// EnableChaos switches on fault injection.
func (c *Client) EnableChaos(cfg ChaosConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chaos = cfg
}

func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Dropped:  c.dropped.Load(),
		Delayed:  c.delayed.Load(),
	}
}

func (c *Client) maybeChaos(ctx context.Context) error {
	c.mu.Lock()
	cfg := c.chaos
	if !cfg.Enabled {
		c.mu.Unlock()
		return nil
	}
	drop := cfg.DropProb > 0 && c.rng.Float64() < cfg.DropProb
	var delay time.Duration
	if !drop && cfg.DelayProb > 0 && cfg.DelayMax > 0 && c.rng.Float64() < cfg.DelayProb {
		delay = cfg.DelayMin
		if jitter := cfg.DelayMax - cfg.DelayMin; jitter > 0 {
			delay += time.Duration(c.rng.Int63n(int64(jitter)))
		}
	}
	c.mu.Unlock()

	if drop {
		c.dropped.Add(1)
		return ErrChaosDrop
	}
	if delay > 0 {
		c.delayed.Add(1)
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// PostJSON posts body as JSON and decodes a non-empty response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req, out)
}

// GetJSON fetches url and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(ctx, req, out)
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) (int, error) {
	c.requests.Add(1)
	if err := c.maybeChaos(ctx); err != nil {
		return 0, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if out != nil && len(data) > 0 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
