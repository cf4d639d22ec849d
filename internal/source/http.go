package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/genome-tiles/server/internal/genome"
)

// HTTPConfig contains data service client settings.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPClient fetches datasets from the data service over HTTP. Responses
// may be zstd or gzip encoded.
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	decoder *zstd.Decoder
}

// NewHTTPClient creates a client for the service rooted at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse data service url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &HTTPClient{base: base, client: client, decoder: decoder}, nil
}

// Close releases the decoder.
func (c *HTTPClient) Close() {
	c.decoder.Close()
}

// Fetch issues the data query and decodes the payload.
func (c *HTTPClient) Fetch(ctx context.Context, req Request) (*genome.Dataset, error) {
	body, err := c.get(ctx, req.DatasetID, req.Query())
	if err != nil {
		return nil, err
	}
	d, err := genome.Decode(req.Kind, req.Region, body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", req, err)
	}
	log.WithFields(log.Fields{
		"dataset": req.DatasetID,
		"region":  req.Region.String(),
		"state":   d.State,
		"records": d.Len(),
	}).Debug("fetched")
	return d, nil
}

// CheckState asks whether the dataset has been converted for querying.
func (c *HTTPClient) CheckState(ctx context.Context, datasetID, hdaLdda, chrom string) (*genome.Dataset, error) {
	q := url.Values{}
	q.Set("data_type", "converted_datasets_state")
	q.Set("dataset_id", datasetID)
	if hdaLdda != "" {
		q.Set("hda_ldda", hdaLdda)
	}
	if chrom != "" {
		q.Set("chrom", chrom)
	}
	body, err := c.get(ctx, datasetID, q)
	if err != nil {
		return nil, err
	}
	trimmed := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if genome.State(trimmed) == genome.StateData {
		return genome.WithState(genome.StateData), nil
	}
	return genome.Decode(genome.KindFeatures, genome.Region{Chrom: chrom}, body)
}

func (c *HTTPClient) get(ctx context.Context, datasetID string, q url.Values) ([]byte, error) {
	u := *c.base
	if datasetID != "" {
		u.Path = u.Path + "/" + url.PathEscape(datasetID)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", "zstd, gzip")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to query data service: %w", err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("data service returned %s: %s", resp.Status, msg)
	}
	return body, nil
}

func (c *HTTPClient) readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "zstd":
		out, err := c.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress zstd response: %w", err)
		}
		return out, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip response: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip response: %w", err)
		}
		return out, nil
	}
	return raw, nil
}
