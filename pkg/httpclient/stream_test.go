package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/record"
)

func drain(t *testing.T, s *Stream) []record.Record {
	t.Helper()
	var out []record.Record
	for s.Next() {
		out = append(out, s.Record())
	}
	require.NoError(t, s.Err())
	return out
}

func TestStream_HasMoreFalseStopsAfterPageOne(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":   []map[string]any{{"id": 1}, {"id": 2}},
			"hasMore": false,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	s := c.Stream(context.Background(), config.Production, ListConfig{
		Path:   "/things",
		Params: map[string]string{"page": "1"},
	}, "tok", "")

	got := drain(t, s)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, requests)
}

func TestStream_HasMoreTrueWalksPages(t *testing.T) {
	var pagesRequested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pagesRequested = append(pagesRequested, page)
		n, _ := strconv.Atoi(page)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":   []map[string]any{{"id": n}},
			"hasMore": n < 3,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	s := c.Stream(context.Background(), config.Production, ListConfig{
		Path:   "/things",
		Params: map[string]string{"page": "1"},
	}, "tok", "")

	got := drain(t, s)
	require.Len(t, got, 3)
	for i, rec := range got {
		assert.Equal(t, strconv.Itoa(i+1), rec.ID())
	}
	assert.Equal(t, []string{"1", "2", "3"}, pagesRequested, "page 4 must never be requested")
}

func TestStream_ContinuationToken(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("continuationToken")
		tokens = append(tokens, tok)
		resp := map[string]any{
			"data": []map[string]any{{"id": len(tokens)}},
		}
		if tok == "" {
			resp["continueFrom"] = "abc"
		} else {
			resp["continueFrom"] = ""
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	s := c.Stream(context.Background(), config.Production, ListConfig{
		Path:        "/things",
		DataKey:     "data",
		NextPageKey: "continueFrom",
	}, "tok", "")

	got := drain(t, s)
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"", "abc"}, tokens)
}

func TestStream_FullPageHeuristic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		items := []map[string]any{}
		count := 2
		if page > 1 {
			count = 1 // short page ends the stream
		}
		for i := 0; i < count; i++ {
			items = append(items, map[string]any{"id": page*10 + i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	s := c.Stream(context.Background(), config.Production, ListConfig{
		Path:   "/things",
		Params: map[string]string{"page": "1", "pageSize": "2"},
	}, "tok", "")

	got := drain(t, s)
	assert.Len(t, got, 3)
}

func TestStream_SinceFilterApplied(t *testing.T) {
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("modifiedOnOrAfter")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}, "hasMore": false})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	s := c.Stream(context.Background(), config.Production, ListConfig{
		Path:       "/things",
		SinceParam: "modifiedOnOrAfter",
	}, "tok", "2025-08-01")

	drain(t, s)
	assert.Equal(t, "2025-08-01", gotSince)
}

func TestStream_PropagatesFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	s := c.Stream(context.Background(), config.Production, ListConfig{Path: "/things"}, "tok", "")

	assert.False(t, s.Next())
	assert.Error(t, s.Err())
}
