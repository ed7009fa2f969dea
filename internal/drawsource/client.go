// Package drawsource fetches the latest EuroMillions draw from the public results API.
package drawsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eurobot/internal/lottery"
	"eurobot/internal/metrics"
	"eurobot/pkg/logx"
)

const (
	DefaultBaseURL = "https://euromillions.api.pedromealha.dev"
	DefaultPath    = "/v1/draws"
	DefaultTimeout = 15 * time.Second

	// full history is a few hundred KB; anything far beyond that is not a draw list
	maxBody = 16 << 20
)

type Config struct {
	BaseURL   string
	Path      string
	Timeout   time.Duration
	UserAgent string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = DefaultPath
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = "eurobot/1"
	}
	return c
}

// URL is the full endpoint the client polls.
func (c Config) URL() string {
	c = c.withDefaults()
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(c.Path, "/")
}

type Client struct {
	cfg     Config
	http    *http.Client
	log     logx.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, log logx.Logger, m *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.With(logx.String("comp", "drawsource")),
		metrics: m,
	}
}

// FetchLatest performs one GET and returns the newest draw. There is no retry;
// the caller decides when to try again.
func (c *Client) FetchLatest(ctx context.Context) (lottery.DrawResult, error) {
	start := time.Now()
	d, err := c.fetch(ctx)
	took := time.Since(start)

	outcome := "ok"
	switch {
	case errors.Is(err, lottery.ErrSourceMalformed):
		outcome = "malformed"
	case err != nil:
		outcome = "unavailable"
	}
	c.metrics.ObserveFetch(outcome, took)
	if err != nil {
		c.log.Debug("fetch failed", logx.Err(err), logx.Duration("took", took))
		return lottery.DrawResult{}, err
	}
	c.log.Debug("fetched draw", logx.String("date", d.Date), logx.Duration("took", took))
	return d, nil
}

func (c *Client) fetch(ctx context.Context) (lottery.DrawResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL(), nil)
	if err != nil {
		return lottery.DrawResult{}, fmt.Errorf("%w: build request: %v", lottery.ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return lottery.DrawResult{}, fmt.Errorf("%w: %v", lottery.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return lottery.DrawResult{}, fmt.Errorf("%w: status %d", lottery.ErrSourceUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return lottery.DrawResult{}, fmt.Errorf("%w: read body: %v", lottery.ErrSourceUnavailable, err)
	}
	return Parse(body)
}

// Parse decodes a payload that is either an array of draws (last is newest)
// or a single draw object.
func Parse(body []byte) (lottery.DrawResult, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return lottery.DrawResult{}, fmt.Errorf("%w: empty body", lottery.ErrSourceMalformed)
	}

	var raw wireDraw
	switch body[0] {
	case '[':
		var list []wireDraw
		if err := json.Unmarshal(body, &list); err != nil {
			return lottery.DrawResult{}, fmt.Errorf("%w: %v", lottery.ErrSourceMalformed, err)
		}
		if len(list) == 0 {
			return lottery.DrawResult{}, fmt.Errorf("%w: empty draw list", lottery.ErrSourceMalformed)
		}
		raw = list[len(list)-1]
	case '{':
		if err := json.Unmarshal(body, &raw); err != nil {
			return lottery.DrawResult{}, fmt.Errorf("%w: %v", lottery.ErrSourceMalformed, err)
		}
	default:
		return lottery.DrawResult{}, fmt.Errorf("%w: unexpected payload", lottery.ErrSourceMalformed)
	}

	if raw.Date == "" || raw.Numbers == nil {
		return lottery.DrawResult{}, fmt.Errorf("%w: missing date or numbers", lottery.ErrSourceMalformed)
	}
	d := lottery.DrawResult{
		Date:    raw.Date,
		Numbers: []int(raw.Numbers),
		Stars:   []int(raw.Stars),
	}
	if d.Stars == nil {
		d.Stars = []int{}
	}
	if err := d.Validate(); err != nil {
		return lottery.DrawResult{}, err
	}
	return d, nil
}

type wireDraw struct {
	Date    string  `json:"date"`
	Numbers numList `json:"numbers"`
	Stars   numList `json:"stars"`
}

// numList accepts [1,2] as well as ["1","2"].
type numList []int

func (n *numList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		var v int
		if err := json.Unmarshal(it, &v); err == nil {
			out = append(out, v)
			continue
		}
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			return fmt.Errorf("number %s: %w", string(it), err)
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		out = append(out, v)
	}
	*n = out
	return nil
}
