package challonge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passGate dispatches thunks inline so client tests exercise HTTP behavior
// without a running gate.
type passGate struct {
	submits int
}

func (g *passGate) Submit(ctx context.Context, thunk func(ctx context.Context) (any, error)) (any, error) {
	g.submits++
	return thunk(ctx)
}

type fakeTokens struct {
	bearer      string
	bearerErr   error
	invalidated int
}

func (f *fakeTokens) BearerToken(ctx context.Context) (string, error) {
	return f.bearer, f.bearerErr
}

func (f *fakeTokens) InvalidateBearer(ctx context.Context) error {
	f.invalidated++
	f.bearer = ""
	return nil
}

func newClientFor(srv *httptest.Server, legacyKey string, tokens TokenSource) (*Client, *passGate) {
	gate := &passGate{}
	return NewClient(srv.URL, legacyKey, 5*time.Second, gate, tokens), gate
}

func TestRequestUsesLegacyAuthWithoutTokens(t *testing.T) {
	var gotAuth, gotType, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Authorization-Type")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"data":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client, _ := newClientFor(srv, "legacy-key", nil)
	payload, err := client.Request(context.Background(), http.MethodGet, nil, WithPath("/tournaments"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(payload))
	assert.Equal(t, "legacy-key", gotAuth)
	assert.Equal(t, "v1", gotType)
	assert.Equal(t, "application/json", gotAccept)
}

func TestRequestPrefersBearerToken(t *testing.T) {
	var gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Authorization-Type")
		w.Write([]byte(`{"data":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client, _ := newClientFor(srv, "legacy-key", &fakeTokens{bearer: "tok-123"})
	_, err := client.Request(context.Background(), http.MethodGet, nil, WithPath("/tournaments"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "v2", gotType)
}

func TestBearerRejectionFallsBackToLegacyKey(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		auths = append(auths, auth)
		if strings.HasPrefix(auth, "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":{"type":"tournaments","id":"T1","attributes":{}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	tokens := &fakeTokens{bearer: "stale-token"}
	client, gate := newClientFor(srv, "legacy-key", tokens)

	payload, err := client.Request(context.Background(), http.MethodGet, nil, WithPath("/tournaments/T1"))
	require.NoError(t, err, "fallback must rescue a bearer 401")
	assert.Contains(t, string(payload), "T1")

	require.Len(t, auths, 2)
	assert.Equal(t, "Bearer stale-token", auths[0])
	assert.Equal(t, "legacy-key", auths[1])
	assert.Equal(t, 1, tokens.invalidated, "rejected token is deleted")
	assert.Equal(t, 1, gate.submits, "the replay happens inside one gate dispatch")
}

func TestBearerRejectionWithoutLegacyKeyIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := newClientFor(srv, "", &fakeTokens{bearer: "stale-token"})
	_, err := client.Request(context.Background(), http.MethodGet, nil, WithPath("/tournaments"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnauthorized))
}

func TestLegacy401DoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := newClientFor(srv, "bad-key", nil)
	_, err := client.Request(context.Background(), http.MethodGet, nil, WithPath("/tournaments"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnauthorized))
	assert.Equal(t, 1, calls, "the fallback ladder only applies to bearer rejections")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusForbidden, KindRateLimited},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindProvider},
		{http.StatusUnprocessableEntity, KindProvider},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"errors":[{"detail":"nope"}]}`)) //nolint:errcheck
			}))
			defer srv.Close()

			client, _ := newClientFor(srv, "key", nil)
			_, err := client.Request(context.Background(), http.MethodGet, nil, WithPath("/x"))
			require.Error(t, err)
			assert.True(t, IsKind(err, tc.kind), "got %v", err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Contains(t, apiErr.Body, "nope", "provider body is preserved")
		})
	}
}

func TestTransportErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client, _ := newClientFor(srv, "key", nil)
	_, err := client.Request(context.Background(), http.MethodGet, nil, WithPath("/x"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport))
}

func TestQueryParametersAndBody(t *testing.T) {
	var gotQuery, gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotContentType = r.Header.Get("Content-Type")
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Write([]byte(`{"data":{"type":"tournaments","id":"T1","attributes":{}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client, _ := newClientFor(srv, "key", nil)
	_, err := client.Request(context.Background(), http.MethodPost, nil,
		WithPath("/tournaments"),
		WithQueryParameters(map[string]string{"page": "1", "per_page": "25"}),
		WithJSONAPIBody(map[string]any{"data": map[string]any{"type": "tournaments"}}),
	)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "page=1")
	assert.Contains(t, gotQuery, "per_page=25")
	assert.JSONEq(t, `{"data":{"type":"tournaments"}}`, gotBody)
	assert.Equal(t, "application/vnd.api+json", gotContentType)
}

func TestRequestDecodesIntoTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"type":"tournaments","id":"T1","attributes":{"name":"Weekly"}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client, _ := newClientFor(srv, "key", nil)
	var doc struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_, err := client.Request(context.Background(), http.MethodGet, &doc, WithPath("/tournaments/T1"))
	require.NoError(t, err)
	assert.Equal(t, "T1", doc.Data.ID)
}

func TestIsRateLimitStatus(t *testing.T) {
	assert.True(t, IsRateLimitStatus(&APIError{Kind: KindRateLimited, StatusCode: 429}))
	assert.True(t, IsRateLimitStatus(&APIError{Kind: KindRateLimited, StatusCode: 403}))
	assert.False(t, IsRateLimitStatus(&APIError{Kind: KindUnauthorized, StatusCode: 401}))
	assert.False(t, IsRateLimitStatus(errors.New("plain error")))
}

func TestValidationAndConflictHelpers(t *testing.T) {
	err := NewValidationError("seed %d out of range", 0)
	assert.True(t, IsKind(err, KindValidation))
	assert.Contains(t, err.Error(), "seed 0 out of range")

	err = NewConflictError("tournament already started")
	assert.True(t, IsKind(err, KindConflict))
}
