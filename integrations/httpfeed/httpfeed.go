// Package httpfeed is a sample pool integration. Producers poll a JSON feed
// over HTTP; verifiers check that what the producer committed is well
// formed and tagged for the pool.
package httpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/log"
)

const (
	// TagSourceURL names the feed a record was fetched from.
	TagSourceURL = "Source-URL"

	DefaultInterval = 10 * time.Second

	maxBodySize = 4 << 20
)

// poolConfig is the part of the pool's opaque config this integration reads.
type poolConfig struct {
	URL string `json:"url"`
}

// Source polls a URL and emits every JSON document it serves.
type Source struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *log.Logger
}

// NewSource creates a source polling url every interval. If url is empty,
// the "url" field of the pool config is used.
func NewSource(url string, interval time.Duration, logger *log.Logger) *Source {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Source{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.WithModule("httpfeed"),
	}
}

// Run implements node.Source.
func (s *Source) Run(ctx context.Context, pool common.PoolConfig, emit chan<- common.Record) error {
	url := s.url
	if url == "" {
		var cfg poolConfig
		if len(pool.Config) > 0 {
			if err := json.Unmarshal(pool.Config, &cfg); err != nil {
				return fmt.Errorf("decoding pool config: %w", err)
			}
		}
		if cfg.URL == "" {
			return fmt.Errorf("no feed url configured")
		}
		url = cfg.URL
	}
	logger := s.logger.With("url", url)
	logger.Info("polling feed", "interval", s.interval)

	for {
		data, err := s.fetch(ctx, url)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("failed to fetch feed", "err", err)
		case err == nil:
			r := common.Record{
				Data: data,
				Tags: []common.Tag{{Name: TagSourceURL, Value: url}},
			}
			select {
			case emit <- r:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Source) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("feed did not return JSON")
	}
	return json.RawMessage(body), nil
}

// Validator judges a transaction valid when it carries the pool's commit
// tags and its payload is well-formed JSON.
type Validator struct {
	application string
	logger      *log.Logger
}

// NewValidator creates a validator expecting the given Application tag.
func NewValidator(application string, logger *log.Logger) *Validator {
	return &Validator{
		application: application,
		logger:      logger.WithModule("httpfeed"),
	}
}

// Validate implements node.Validator.
func (v *Validator) Validate(_ context.Context, pool common.PoolConfig, in <-chan common.ObservedTransaction, out chan<- common.Judgment) error {
	want := pool.CommitTags(v.application)
	for tx := range in {
		valid, reason := judge(tx, want)
		if !valid {
			v.logger.Info("transaction failed validation", "tx_id", tx.Ref, "reason", reason)
		}
		out <- common.Judgment{Valid: valid, Ref: tx.Ref}
	}
	return nil
}

func judge(tx common.ObservedTransaction, want []common.Tag) (bool, string) {
	for _, t := range want {
		if v, ok := common.TagValue(tx.Tags, t.Name); !ok || v != t.Value {
			return false, fmt.Sprintf("tag %s is '%s', expected '%s'", t.Name, v, t.Value)
		}
	}
	if !json.Valid(tx.Payload) {
		return false, "payload is not JSON"
	}
	return true, ""
}
