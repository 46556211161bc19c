package httpclient

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/record"
)

// ListConfig describes a paginated list endpoint. The platform's APIs use
// three incompatible pagination conventions; NextPageKey and the hasMore
// field select between them at runtime.
type ListConfig struct {
	Path string
	// Params are the initial query parameters; a pageSize default is
	// injected when absent.
	Params map[string]string
	// DataKey is the response field holding the page's records
	// (default "items").
	DataKey string
	// NextPageKey is the response field holding the next page number or a
	// continuation token (default "hasMore").
	NextPageKey string
	// SinceParam, when set, names the query key the since filter is
	// copied into.
	SinceParam string
}

// Stream lazily pulls records from a list endpoint, one page at a time.
// It is a single forward pass: not seekable, restartable only by building
// a new Stream. Unbounded until the API signals completion.
type Stream struct {
	client *Client
	ctx    context.Context
	env    config.Env
	bearer string

	path     string
	params   map[string]string
	dataKey  string
	nextKey  string
	pageSize int

	items []record.Record
	idx   int
	rec   record.Record

	pages int
	total int
	done  bool
	err   error
}

// Stream starts streaming the configured list endpoint. When since is
// non-empty it is copied into the configured since query key.
func (c *Client) Stream(ctx context.Context, env config.Env, lc ListConfig, bearer, since string) *Stream {
	params := make(map[string]string, len(lc.Params)+2)
	for k, v := range lc.Params {
		params[k] = v
	}
	if params["pageSize"] == "" {
		params["pageSize"] = strconv.Itoa(c.settings.PageSize)
	}
	if since != "" && lc.SinceParam != "" {
		params[lc.SinceParam] = since
	}

	dataKey := lc.DataKey
	if dataKey == "" {
		dataKey = "items"
	}
	nextKey := lc.NextPageKey
	if nextKey == "" {
		nextKey = "hasMore"
	}
	pageSize, _ := strconv.Atoi(params["pageSize"])

	return &Stream{
		client:   c,
		ctx:      ctx,
		env:      env,
		bearer:   bearer,
		path:     lc.Path,
		params:   params,
		dataKey:  dataKey,
		nextKey:  nextKey,
		pageSize: pageSize,
	}
}

// Next advances to the next record, fetching pages as needed. It returns
// false when the stream is exhausted or failed; check Err afterwards.
func (s *Stream) Next() bool {
	for {
		if s.idx < len(s.items) {
			s.rec = s.items[s.idx]
			s.idx++
			s.total++
			return true
		}
		if s.done || s.err != nil {
			return false
		}
		s.fetchPage()
	}
}

// Record returns the record produced by the last successful Next.
func (s *Stream) Record() record.Record { return s.rec }

// Err returns the first error the stream hit, if any.
func (s *Stream) Err() error { return s.err }

func (s *Stream) fetchPage() {
	s.pages++
	page, err := s.client.Get(s.ctx, s.env, s.path, s.bearer, s.params)
	if err != nil {
		s.err = err
		s.done = true
		return
	}

	s.items = page.List(s.dataKey)
	s.idx = 0

	s.client.logger.Info("Fetched page",
		zap.Int("page", s.pages),
		zap.Int("item_count", len(s.items)),
		zap.Int("total_so_far", s.total))

	// Convention 1: an explicit hasMore flag governs continuation.
	if hasMore, present := page["hasMore"]; present {
		if b, _ := hasMore.(bool); b {
			s.bumpPage()
		} else {
			s.done = true
		}
		return
	}

	// Convention 2: the next-page key carries a page number or a
	// continuation token.
	switch next := page[s.nextKey].(type) {
	case float64:
		s.params["page"] = strconv.Itoa(int(next))
		return
	case string:
		if next != "" {
			s.params["continuationToken"] = next
			return
		}
	}

	// Convention 3: a full page implies there may be more.
	if s.params["page"] != "" && s.pageSize > 0 && len(s.items) >= s.pageSize {
		s.bumpPage()
		return
	}

	s.done = true
}

func (s *Stream) bumpPage() {
	cur, err := strconv.Atoi(s.params["page"])
	if err != nil || cur < 1 {
		cur = 1
	}
	s.params["page"] = strconv.Itoa(cur + 1)
}
