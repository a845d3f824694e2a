// Package price looks up token prices for the position monitor: an HTTP
// oracle client and a memoizing decorator shared across processes through
// Redis.
package price

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/metrics"
)

// HTTPOracleConfig configures HTTPOracle.
type HTTPOracleConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  int // requests per minute
	MaxRetries int
}

// HTTPOracle queries a Jupiter-style price endpoint:
//
//	GET {BaseURL}/price?ids=<token>,<base mint>
//	{"data": {"<mint>": {"id": "<mint>", "price": "0.0123"}}}
//
// Prices come back in the quote currency (USD); the base-currency price is
// derived by dividing through the base mint's quote.
type HTTPOracle struct {
	client *resty.Client
	logger *zap.Logger
}

var _ domain.PriceOracle = (*HTTPOracle)(nil)

type priceEntry struct {
	ID    string          `json:"id"`
	Price decimal.Decimal `json:"price"`
}

type priceResponse struct {
	Data map[string]*priceEntry `json:"data"`
}

// NewHTTPOracle creates an HTTPOracle. Requests wait on a token bucket of
// cfg.RateLimit per minute before they are sent.
func NewHTTPOracle(cfg HTTPOracleConfig, logger *zap.Logger) *HTTPOracle {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 600
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	logger = logger.With(zap.String("component", "price_oracle"))
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/60), 1)

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
			waitCtx, cancel := context.WithTimeout(r.Context(), cfg.Timeout)
			defer cancel()
			if err := limiter.Wait(waitCtx); err != nil {
				return fmt.Errorf("price: rate limiter: %w", err)
			}
			if cfg.APIKey != "" {
				r.SetHeader("X-API-Key", cfg.APIKey)
			}
			return nil
		}).
		AddResponseMiddleware(func(c *resty.Client, resp *resty.Response) error {
			if resp.StatusCode() >= 400 {
				logger.Warn("price request failed",
					zap.Int("status", resp.StatusCode()),
					zap.String("url", resp.Request.URL),
				)
			}
			return nil
		})

	return &HTTPOracle{client: client, logger: logger}
}

// GetPrice returns token's price in the base currency and in USD.
func (o *HTTPOracle) GetPrice(ctx context.Context, token string) (domain.Price, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Price{}, domain.Validationf("missing_token", "token is required")
	}

	var out priceResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParam("ids", token+","+domain.BaseMint).
		SetResult(&out).
		Get("/price")
	if err != nil {
		metrics.OracleErrors.WithLabelValues("transport").Inc()
		return domain.Price{}, domain.Unavailablef(domain.ErrPriceUnavailable, "price_unavailable", "%s: %v", token, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		metrics.OracleErrors.WithLabelValues("not_found").Inc()
		return domain.Price{}, domain.NotFoundf(domain.ErrPriceNotFound, "price_not_found", "%s", token)
	case resp.StatusCode() >= 400:
		metrics.OracleErrors.WithLabelValues("status").Inc()
		return domain.Price{}, domain.Unavailablef(domain.ErrPriceUnavailable, "price_unavailable",
			"%s: status %d", token, resp.StatusCode())
	}

	quote := lookup(out.Data, token)
	if quote == nil || !quote.Price.IsPositive() {
		metrics.OracleErrors.WithLabelValues("not_found").Inc()
		return domain.Price{}, domain.NotFoundf(domain.ErrPriceNotFound, "price_not_found", "%s", token)
	}

	p := domain.Price{Token: token, InQuote: quote.Price, AsOf: time.Now().UTC()}
	if domain.IsBaseToken(token) {
		p.InBase = decimal.NewFromInt(1)
		return p, nil
	}
	base := lookup(out.Data, domain.BaseMint)
	if base == nil || !base.Price.IsPositive() {
		metrics.OracleErrors.WithLabelValues("base_missing").Inc()
		return domain.Price{}, domain.Unavailablef(domain.ErrPriceUnavailable, "price_unavailable",
			"%s: no base currency quote", token)
	}
	p.InBase = quote.Price.Div(base.Price)
	return p, nil
}

// lookup finds a mint in the response, tolerating case differences in the
// returned keys.
func lookup(data map[string]*priceEntry, mint string) *priceEntry {
	if e, ok := data[mint]; ok {
		return e
	}
	for k, e := range data {
		if strings.EqualFold(k, mint) {
			return e
		}
	}
	return nil
}
