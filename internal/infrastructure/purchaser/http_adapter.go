package purchaser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/race"
	"autobuy/pkg/contextx"
	"autobuy/pkg/errcodes"
	"autobuy/pkg/httpx"
	"autobuy/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

const maxErrorBody = 4 << 10

// NewHTTPClient builds the client every HTTP adapter shares: bearer auth
// and masked request logging on top of the default transport. It carries no
// timeout of its own: purchases are bounded by the race context only.
func NewHTTPClient(token string) *http.Client {
	var transport http.RoundTripper = http.DefaultTransport
	if token != "" {
		transport = httpx.NewAuthBearerRoundTripper(transport, httpx.StaticToken(token))
	}

	return &http.Client{
		Transport: httpx.NewLoggingRoundTripper(transport,
			httpx.WithSensitiveDataMasker(logx.NewSensitiveDataMasker()),
			httpx.WithLogFieldMaxLen(4096),
		),
	}
}

type purchaseRequest struct {
	AttemptID    string          `json:"attempt_id"`
	ListingID    string          `json:"listing_id"`
	Section      string          `json:"section,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	PaymentRef   string          `json:"payment_ref"`
	PaymentToken string          `json:"payment_token,omitempty"`
	Session      string          `json:"session_token,omitempty"`
	CartToken    string          `json:"cart_token,omitempty"`
	Bypass       string          `json:"bypass_artifact,omitempty"`
	ShippingRef  string          `json:"shipping_ref,omitempty"`
}

type warmRequest struct {
	ConfigurationID string `json:"configuration_id"`
	EventID         string `json:"event_id,omitempty"`
	Quantity        int    `json:"quantity"`
}

type failureResponse struct {
	Reason string `json:"reason"`
}

// HTTPAdapter speaks the generic purchase contract:
// POST {endpoint}/purchases and POST {endpoint}/sessions, both JSON.
// The attempt id is sent as Idempotency-Key so a retried request never buys twice.
type HTTPAdapter struct {
	source      string
	endpoint    string
	client      *http.Client
	warmTimeout time.Duration
}

func NewHTTPAdapter(source, endpoint string, client *http.Client) *HTTPAdapter {
	return &HTTPAdapter{
		source:   source,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

// WithWarmTimeout bounds each session warm-up request. Zero leaves Warm
// bounded by the caller's context only.
func (a *HTTPAdapter) WithWarmTimeout(timeout time.Duration) *HTTPAdapter {
	a.warmTimeout = timeout
	return a
}

func (a *HTTPAdapter) AttemptPurchase(ctx context.Context, req race.PurchaseRequest) (entity.PurchaseResult, error) {
	body := purchaseRequest{
		AttemptID:    req.AttemptID,
		ListingID:    req.Candidate.ListingID,
		Section:      req.Candidate.Section,
		Quantity:     req.Quantity,
		UnitPrice:    req.Candidate.Price,
		PaymentRef:   req.PaymentRef,
		PaymentToken: tokenOrEmpty(req.Context),
		Session:      req.Context.Session(a.source),
		CartToken:    req.Context.CartToken(a.source),
	}
	if req.Context != nil {
		body.Bypass = req.Context.BypassArtifacts[a.source]
		body.ShippingRef = req.Context.ShippingRef
	}

	var result entity.PurchaseResult
	if err := a.post(ctx, "/purchases", req.AttemptID, body, &result); err != nil {
		return entity.PurchaseResult{}, err
	}

	if result.TransactionID == "" {
		return entity.PurchaseResult{}, domain.NewError(errcodes.AdapterFailure, a.source+" confirmed without transaction id")
	}

	return result, nil
}

func (a *HTTPAdapter) Warm(ctx context.Context, cfg entity.PurchaseConfiguration) (Warmup, error) {
	if a.warmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.warmTimeout)
		defer cancel()
	}

	var w Warmup
	err := a.post(ctx, "/sessions", "", warmRequest{
		ConfigurationID: cfg.ID,
		EventID:         cfg.EventID,
		Quantity:        cfg.DesiredQuantity,
	}, &w)
	return w, err
}

func (a *HTTPAdapter) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("http.NewRequestWithContext: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if raceID, err := contextx.RaceIDFromContext(ctx); err == nil {
		req.Header.Set("X-Race-Id", raceID.String())
	}
	if traceID, err := contextx.TraceIDFromContext(ctx); err == nil {
		req.Header.Set("X-Trace-Id", traceID.String())
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("client.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		var failure failureResponse
		if err := json.Unmarshal(raw, &failure); err != nil || failure.Reason == "" {
			failure.Reason = http.StatusText(resp.StatusCode)
		}

		return domain.NewError(errcodes.AdapterFailure, fmt.Sprintf("%s: %s", a.source, failure.Reason))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}

	return nil
}

func tokenOrEmpty(p *entity.PreloadedContext) string {
	if p == nil {
		return ""
	}
	return p.PaymentToken
}
