package purchaser_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/race"
	"autobuy/internal/infrastructure/purchaser"
	"autobuy/pkg/contextx"
	"autobuy/pkg/errcodes"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

func configuration() entity.PurchaseConfiguration {
	return entity.PurchaseConfiguration{
		ID:               "cfg-1",
		OwnerID:          7,
		EventID:          "evt-1",
		Active:           true,
		MaxPrice:         decimal.NewFromInt(200),
		DesiredQuantity:  2,
		PaymentMethodRef: "pm-1",
	}
}

func purchaseRequest() race.PurchaseRequest {
	return race.PurchaseRequest{
		AttemptID: "attempt_1",
		Candidate: entity.InventoryCandidate{
			Source:    "A",
			ListingID: "a-1",
			Price:     decimal.NewFromInt(150),
			Quantity:  2,
		},
		Quantity:   2,
		PaymentRef: "pm-1",
		Context: &entity.PreloadedContext{
			PaymentToken: "ptok",
			Sessions:     map[string]string{"A": "sess-a"},
			CartTokens:   map[string]string{"A": "cart-a"},
			PreloadedAt:  time.Now(),
		},
	}
}

func TestHTTPAdapterAttemptPurchase(t *testing.T) {
	rq := require.New(t)

	var (
		gotPath string
		gotKey  string
		gotAuth string
		gotRace string
		gotBody map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		gotRace = r.Header.Get("X-Race-Id")

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"transaction_id":"tx-1","confirmation":"CONF","total_paid":"300.00"}`))
	}))
	defer server.Close()

	adapter := purchaser.NewHTTPAdapter("A", server.URL+"/", purchaser.NewHTTPClient("key"))

	ctx := contextx.WithRaceID(context.Background(), "race-1")

	result, err := adapter.AttemptPurchase(ctx, purchaseRequest())
	rq.NoError(err)

	rq.Equal("tx-1", result.TransactionID)
	rq.Equal("CONF", result.Confirmation)
	rq.True(decimal.NewFromInt(300).Equal(result.TotalPaid))

	rq.Equal("/purchases", gotPath)
	rq.Equal("attempt_1", gotKey)
	rq.Equal("Bearer key", gotAuth)
	rq.Equal("race-1", gotRace)
	rq.Equal("a-1", gotBody["listing_id"])
	rq.Equal("sess-a", gotBody["session_token"])
	rq.Equal("cart-a", gotBody["cart_token"])
	rq.Equal("ptok", gotBody["payment_token"])
	rq.InDelta(2, gotBody["quantity"], 0)
}

func TestHTTPAdapterFailures(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "Reason from body", status: http.StatusConflict, body: `{"reason":"sold out"}`, message: "A: sold out"},
		{name: "Opaque body", status: http.StatusBadGateway, body: `<html>`, message: "A: Bad Gateway"},
		{name: "No transaction id", status: http.StatusOK, body: `{}`, message: "A confirmed without transaction id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rq := require.New(t)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			adapter := purchaser.NewHTTPAdapter("A", server.URL, purchaser.NewHTTPClient(""))

			_, err := adapter.AttemptPurchase(context.Background(), purchaseRequest())
			rq.Error(err)
			rq.True(domain.HasCode(err, errcodes.AdapterFailure))
			rq.Equal(tc.message, err.Error())
		})
	}
}

func TestHTTPAdapterCancelled(t *testing.T) {
	rq := require.New(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	adapter := purchaser.NewHTTPAdapter("A", server.URL, purchaser.NewHTTPClient(""))

	start := time.Now()
	_, err := adapter.AttemptPurchase(ctx, purchaseRequest())
	rq.Error(err)
	rq.ErrorIs(err, context.DeadlineExceeded)
	rq.Less(time.Since(start), time.Second)
}

func TestHTTPAdapterWarmTimeout(t *testing.T) {
	rq := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-r.Context().Done():
			return
		}

		switch r.URL.Path {
		case "/purchases":
			_, _ = w.Write([]byte(`{"transaction_id":"tx-1","total_paid":"300"}`))
		case "/sessions":
			_, _ = w.Write([]byte(`{"session_token":"sess-a"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	adapter := purchaser.NewHTTPAdapter("A", server.URL, purchaser.NewHTTPClient("")).
		WithWarmTimeout(20 * time.Millisecond)

	result, err := adapter.AttemptPurchase(context.Background(), purchaseRequest())
	rq.NoError(err)
	rq.Equal("tx-1", result.TransactionID)

	_, err = adapter.Warm(context.Background(), configuration())
	rq.ErrorIs(err, context.DeadlineExceeded)
}

func TestRegistryResolve(t *testing.T) {
	rq := require.New(t)

	a := purchaser.NewHTTPAdapter("A", "http://a", http.DefaultClient)
	registry := purchaser.NewRegistry().
		Register("B", purchaser.NewHTTPAdapter("B", "http://b", http.DefaultClient)).
		Register("A", a)

	got, ok := registry.Resolve("A")
	rq.True(ok)
	rq.Same(a, got)

	_, ok = registry.Resolve("Z")
	rq.False(ok)

	rq.Equal([]string{"A", "B"}, registry.Sources())
}

func TestRegistryPreload(t *testing.T) {
	rq := require.New(t)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"session_token":"sess-a","cart_token":"cart-a","bypass_artifact":"cf-a","shipping_ref":"ship-1"}`))
	}))
	defer ok.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	client := purchaser.NewHTTPClient("")

	plain := race.AdapterFunc(func(context.Context, race.PurchaseRequest) (entity.PurchaseResult, error) {
		return entity.PurchaseResult{}, nil
	})

	registry := purchaser.NewRegistry().
		WithClock(func() time.Time { return now }).
		Register("A", purchaser.NewHTTPAdapter("A", ok.URL, client)).
		Register("B", purchaser.NewHTTPAdapter("B", broken.URL, client)).
		Register("C", plain)

	preloaded, err := registry.Preload(context.Background(), configuration())
	rq.NoError(err)

	rq.False(preloaded.Cold())
	rq.Equal(now, preloaded.PreloadedAt)
	rq.Equal("pm-1", preloaded.PaymentToken)
	rq.Equal("sess-a", preloaded.Session("A"))
	rq.Equal("cart-a", preloaded.CartToken("A"))
	rq.Equal("cf-a", preloaded.BypassArtifacts["A"])
	rq.Equal("ship-1", preloaded.ShippingRef)
	rq.Empty(preloaded.Session("B"))

	cfg := configuration()
	cfg.AllowedPlatforms = []string{"B"}

	_, err = registry.Preload(context.Background(), cfg)
	rq.True(domain.HasCode(err, errcodes.PreloadFailed))
}
