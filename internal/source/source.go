// Package source is the client side of the genomic data service.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/genome-tiles/server/internal/genome"
)

// Request describes one data query.
type Request struct {
	Kind       genome.Kind
	Region     genome.Region
	Mode       string
	Resolution float64
	DatasetID  string
	HdaLdda    string
	FilterCols []string
	// StartVal asks the service to skip the first StartVal-1 records.
	StartVal int
	Extra    map[string]string
}

// Fetcher retrieves datasets. Errors are transport or decoding failures;
// data service states arrive as payload states.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*genome.Dataset, error)
}

// StateChecker reports whether a dataset is ready to be queried.
type StateChecker interface {
	CheckState(ctx context.Context, datasetID, hdaLdda, chrom string) (*genome.Dataset, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (*genome.Dataset, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*genome.Dataset, error) {
	return f(ctx, req)
}

// Query encodes the request parameters.
func (r Request) Query() url.Values {
	q := url.Values{}
	q.Set("data_type", "data")
	q.Set("chrom", r.Region.Chrom)
	q.Set("low", strconv.Itoa(r.Region.Start))
	q.Set("high", strconv.Itoa(r.Region.End))
	if r.Mode != "" {
		q.Set("mode", r.Mode)
	}
	q.Set("resolution", strconv.FormatFloat(r.Resolution, 'f', -1, 64))
	if r.DatasetID != "" {
		q.Set("dataset_id", r.DatasetID)
	}
	if r.HdaLdda != "" {
		q.Set("hda_ldda", r.HdaLdda)
	}
	if len(r.FilterCols) > 0 {
		cols, _ := json.Marshal(r.FilterCols)
		q.Set("filter_cols", string(cols))
	}
	if r.StartVal > 0 {
		q.Set("start_val", strconv.Itoa(r.StartVal))
	}
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if q.Get(k) == "" {
			q.Set(k, r.Extra[k])
		}
	}
	return q
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s mode=%s res=%g start_val=%d", r.DatasetID, r.Region, r.Mode, r.Resolution, r.StartVal)
}
