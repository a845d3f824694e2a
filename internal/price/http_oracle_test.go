package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

const testMint = "TokenMint111"

func newOracle(t *testing.T, h http.HandlerFunc) *HTTPOracle {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPOracle(HTTPOracleConfig{BaseURL: srv.URL, APIKey: "k", RateLimit: 6000}, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestHTTPOracle_GetPrice(t *testing.T) {
	o := newOracle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		assert.Equal(t, testMint+","+domain.BaseMint, r.URL.Query().Get("ids"))
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		writeJSON(w, http.StatusOK, `{"data":{
			"`+testMint+`":{"id":"`+testMint+`","price":"0.5"},
			"`+domain.BaseMint+`":{"id":"`+domain.BaseMint+`","price":"100"}}}`)
	})

	p, err := o.GetPrice(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, testMint, p.Token)
	assert.True(t, p.InQuote.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, p.InBase.Equal(decimal.RequireFromString("0.005")), "got %s", p.InBase)
	assert.False(t, p.AsOf.IsZero())
}

func TestHTTPOracle_KeysMatchedCaseInsensitively(t *testing.T) {
	o := newOracle(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{
			"`+strings.ToLower(testMint)+`":{"price":"2"},
			"`+domain.BaseMint+`":{"price":"4"}}}`)
	})

	p, err := o.GetPrice(context.Background(), testMint)
	require.NoError(t, err)
	assert.True(t, p.InBase.Equal(decimal.RequireFromString("0.5")))
}

func TestHTTPOracle_BaseToken(t *testing.T) {
	o := newOracle(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"`+domain.BaseMint+`":{"price":"150"}}}`)
	})

	p, err := o.GetPrice(context.Background(), domain.BaseMint)
	require.NoError(t, err)
	assert.True(t, p.InBase.Equal(decimal.NewFromInt(1)))
	assert.True(t, p.InQuote.Equal(decimal.NewFromInt(150)))
}

func TestHTTPOracle_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "not found status", status: http.StatusNotFound, body: `{}`, want: domain.ErrPriceNotFound},
		{name: "server error", status: http.StatusServiceUnavailable, body: `{}`, want: domain.ErrPriceUnavailable},
		{name: "token missing", status: http.StatusOK, body: `{"data":{"` + domain.BaseMint + `":{"price":"100"}}}`, want: domain.ErrPriceNotFound},
		{name: "zero price", status: http.StatusOK, body: `{"data":{"` + testMint + `":{"price":"0"}}}`, want: domain.ErrPriceNotFound},
		{name: "base missing", status: http.StatusOK, body: `{"data":{"` + testMint + `":{"price":"1"}}}`, want: domain.ErrPriceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOracle(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
			_, err := o.GetPrice(context.Background(), testMint)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHTTPOracle_EmptyToken(t *testing.T) {
	o := NewHTTPOracle(HTTPOracleConfig{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := o.GetPrice(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHTTPOracle_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := NewHTTPOracle(HTTPOracleConfig{BaseURL: url}, zap.NewNop())
	_, err := o.GetPrice(context.Background(), testMint)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}
