package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrienverge/localstripe/internal/billing"
	"github.com/adrienverge/localstripe/internal/event"
	"github.com/adrienverge/localstripe/internal/handler"
	"github.com/adrienverge/localstripe/internal/middleware"
	"github.com/adrienverge/localstripe/internal/payment"
	"github.com/adrienverge/localstripe/internal/resource"
	"github.com/adrienverge/localstripe/internal/router"
	"github.com/adrienverge/localstripe/internal/store"
)

type testAPI struct {
	server *httptest.Server
	sched  *event.ManualScheduler
}

// newAPI wires the full server the way the binary does, with manual
// schedulers so tests control asynchrony.
func newAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := resource.NewEngine(store.NewMemory())
	registry := resource.NewRegistry()

	var mu sync.Mutex
	sched := event.NewManualScheduler()
	locking := middleware.LockingScheduler{Mu: &mu, Next: sched}

	events := event.NewDispatcher(engine, logger, sched, 0)
	payments := payment.NewService(engine, events, locking, logger, 0, registry)
	billingSvc := billing.NewService(payments, events, logger, registry)
	h := handler.New(payments, billingSvc, events, engine, registry, logger)

	r := router.New(router.Recovery(logger))
	h.RegisterConfig(r)
	apiRouter := r.Group(middleware.APIKeyAuth, middleware.Serialize(&mu))
	h.Register(apiRouter)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &testAPI{server: server, sched: sched}
}

// do sends an authenticated JSON request and decodes the response body.
func (a *testAPI) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk_test_12345")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestAPI_RequiresAPIKey(t *testing.T) {
	api := newAPI(t)

	resp, err := http.Get(api.server.URL + "/v1/customers")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "You did not provide an API key.", body["error"]["message"])
}

func TestAPI_RejectsMalformedAPIKey(t *testing.T) {
	api := newAPI(t)

	req, err := http.NewRequest(http.MethodGet, api.server.URL+"/v1/customers", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not_a_key_at_all")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_NotFoundEnvelope(t *testing.T) {
	api := newAPI(t)

	status, body := api.do(t, http.MethodGet, "/v1/customers/cus_missing", nil)

	assert.Equal(t, http.StatusNotFound, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "invalid_request_error", errBody["type"])
	assert.Contains(t, errBody["message"], "cus_missing")
}

func TestAPI_MalformedJSONRejected(t *testing.T) {
	api := newAPI(t)

	req, err := http.NewRequest(http.MethodPost, api.server.URL+"/v1/customers",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk_test_12345")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CustomerLifecycle(t *testing.T) {
	api := newAPI(t)

	status, created := api.do(t, http.MethodPost, "/v1/customers",
		map[string]any{"email": "jan@example.com", "metadata": map[string]string{"plan": "test"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "customer", created["object"])
	assert.Equal(t, "jan@example.com", created["email"])
	id := created["id"].(string)

	status, fetched := api.do(t, http.MethodGet, "/v1/customers/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, fetched["id"])

	status, updated := api.do(t, http.MethodPost, "/v1/customers/"+id,
		map[string]any{"metadata": map[string]string{"tier": "gold"}})
	require.Equal(t, http.StatusOK, status)
	metadata := updated["metadata"].(map[string]any)
	assert.Equal(t, "test", metadata["plan"], "metadata updates merge instead of replacing")
	assert.Equal(t, "gold", metadata["tier"])

	status, deleted := api.do(t, http.MethodDelete, "/v1/customers/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, deleted["deleted"])

	status, _ = api.do(t, http.MethodGet, "/v1/customers/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_ChargeDeclineEnvelope(t *testing.T) {
	api := newAPI(t)

	_, cus := api.do(t, http.MethodPost, "/v1/customers", nil)
	cusID := cus["id"].(string)

	_, pm := api.do(t, http.MethodPost, "/v1/payment_methods", map[string]any{
		"type": "card",
		"card": map[string]any{"number": "4000000000000341", "exp_month": 12, "exp_year": 2030, "cvc": "123"},
	})
	pmID := pm["id"].(string)
	status, _ := api.do(t, http.MethodPost, "/v1/payment_methods/"+pmID+"/attach",
		map[string]any{"customer": cusID})
	require.Equal(t, http.StatusOK, status)

	status, body := api.do(t, http.MethodPost, "/v1/charges", map[string]any{
		"amount": 1000, "currency": "eur", "customer": cusID, "source": pmID,
	})

	assert.Equal(t, http.StatusPaymentRequired, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "card_error", errBody["type"])
	assert.Equal(t, "card_declined", errBody["code"])
	assert.Equal(t, "card_declined", errBody["decline_code"])
	assert.Contains(t, errBody["charge"], "ch_", "the failed charge is stored and referenced")

	// The failed charge is retrievable.
	status, ch := api.do(t, http.MethodGet, "/v1/charges/"+errBody["charge"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "failed", ch["status"])
}

func TestAPI_DeclineCodeCarriesCategory(t *testing.T) {
	api := newAPI(t)

	_, cus := api.do(t, http.MethodPost, "/v1/customers", nil)
	cusID := cus["id"].(string)

	_, pm := api.do(t, http.MethodPost, "/v1/payment_methods", map[string]any{
		"type": "card",
		"card": map[string]any{"number": "4000000000000127", "exp_month": 12, "exp_year": 2030, "cvc": "123"},
	})
	pmID := pm["id"].(string)
	status, _ := api.do(t, http.MethodPost, "/v1/payment_methods/"+pmID+"/attach",
		map[string]any{"customer": cusID})
	require.Equal(t, http.StatusOK, status)

	status, body := api.do(t, http.MethodPost, "/v1/charges", map[string]any{
		"amount": 1000, "currency": "eur", "customer": cusID, "source": pmID,
	})

	assert.Equal(t, http.StatusPaymentRequired, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "card_error", errBody["type"])
	assert.Equal(t, "incorrect_cvc", errBody["code"], "the code names the decline category")
	assert.Equal(t, "incorrect_cvc", errBody["decline_code"])
}

func TestAPI_EventsCannotBeDeleted(t *testing.T) {
	api := newAPI(t)

	status, body := api.do(t, http.MethodDelete, "/v1/events/evt_whatever", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "invalid_request_error", errBody["type"])
	assert.Contains(t, errBody["message"], "cannot be deleted")
}

func TestAPI_ChargeSuccessAndRefund(t *testing.T) {
	api := newAPI(t)

	_, cus := api.do(t, http.MethodPost, "/v1/customers", nil)
	cusID := cus["id"].(string)
	_, pm := api.do(t, http.MethodPost, "/v1/payment_methods", map[string]any{
		"type": "card",
		"card": map[string]any{"number": "4242424242424242", "exp_month": 12, "exp_year": 2030, "cvc": "123"},
	})
	pmID := pm["id"].(string)
	api.do(t, http.MethodPost, "/v1/payment_methods/"+pmID+"/attach", map[string]any{"customer": cusID})

	status, ch := api.do(t, http.MethodPost, "/v1/charges", map[string]any{
		"amount": 2500, "currency": "eur", "customer": cusID, "source": pmID,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "succeeded", ch["status"])
	assert.Equal(t, true, ch["paid"])

	status, refund := api.do(t, http.MethodPost, "/v1/refunds", map[string]any{
		"charge": ch["id"], "amount": 1000,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1000), refund["amount"])

	status, reloaded := api.do(t, http.MethodGet, "/v1/charges/"+ch["id"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1000), reloaded["amount_refunded"])
	assert.Equal(t, false, reloaded["refunded"])
}

func TestAPI_ListPagination(t *testing.T) {
	api := newAPI(t)

	ids := make([]string, 0, 5)
	for range 5 {
		_, cus := api.do(t, http.MethodPost, "/v1/customers", nil)
		ids = append(ids, cus["id"].(string))
	}

	status, page := api.do(t, http.MethodGet, "/v1/customers?limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "list", page["object"])
	data := page["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, true, page["has_more"])

	cursor := data[1].(map[string]any)["id"].(string)
	status, next := api.do(t, http.MethodGet, "/v1/customers?limit=10&starting_after="+cursor, nil)
	require.Equal(t, http.StatusOK, status)
	nextData := next["data"].([]any)
	assert.Len(t, nextData, 3)
	assert.Equal(t, false, next["has_more"])

	// An unknown cursor silently restarts from the beginning.
	status, restarted := api.do(t, http.MethodGet, "/v1/customers?starting_after=cus_gone", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, restarted["data"].([]any), len(ids))
}

func TestAPI_ExpandCustomerOnCharge(t *testing.T) {
	api := newAPI(t)

	_, cus := api.do(t, http.MethodPost, "/v1/customers", map[string]any{"email": "x@example.com"})
	cusID := cus["id"].(string)
	_, pm := api.do(t, http.MethodPost, "/v1/payment_methods", map[string]any{
		"type": "card",
		"card": map[string]any{"number": "4242424242424242", "exp_month": 12, "exp_year": 2030, "cvc": "123"},
	})
	pmID := pm["id"].(string)
	api.do(t, http.MethodPost, "/v1/payment_methods/"+pmID+"/attach", map[string]any{"customer": cusID})
	_, ch := api.do(t, http.MethodPost, "/v1/charges", map[string]any{
		"amount": 100, "currency": "eur", "customer": cusID, "source": pmID,
	})

	status, expanded := api.do(t, http.MethodGet, "/v1/charges/"+ch["id"].(string)+"?expand[]=customer", nil)
	require.Equal(t, http.StatusOK, status)
	customer, ok := expanded["customer"].(map[string]any)
	require.True(t, ok, "expanded customer is an object, not an id")
	assert.Equal(t, "x@example.com", customer["email"])

	status, list := api.do(t, http.MethodGet, "/v1/charges?expand[]=data.customer", nil)
	require.Equal(t, http.StatusOK, status)
	first := list["data"].([]any)[0].(map[string]any)
	_, ok = first["customer"].(map[string]any)
	assert.True(t, ok, "list expansion goes through the data prefix")
}

func TestAPI_WebhookRegistrationAndDelivery(t *testing.T) {
	api := newAPI(t)

	received := make(chan []byte, 8)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	status, _ := api.do(t, http.MethodPost, "/_config/webhooks/wh_1", map[string]any{
		"url":    sink.URL,
		"secret": "whsec_test",
		"events": []string{"customer.created"},
	})
	require.Equal(t, http.StatusOK, status)

	api.do(t, http.MethodPost, "/v1/customers", map[string]any{"email": "hook@example.com"})
	api.sched.Drain()

	select {
	case payload := <-received:
		var e map[string]any
		require.NoError(t, json.Unmarshal(payload, &e))
		assert.Equal(t, "customer.created", e["type"])
	default:
		t.Fatal("expected a webhook delivery")
	}

	// Deleting the endpoint stops deliveries.
	status, _ = api.do(t, http.MethodDelete, "/_config/webhooks/wh_1", nil)
	require.Equal(t, http.StatusOK, status)
	api.do(t, http.MethodPost, "/v1/customers", nil)
	api.sched.Drain()
	select {
	case <-received:
		t.Fatal("endpoint was removed, no delivery expected")
	default:
	}
}

func TestAPI_WebhookMissingURLRejected(t *testing.T) {
	api := newAPI(t)

	status, body := api.do(t, http.MethodPost, "/_config/webhooks/wh_bad",
		map[string]any{"secret": "whsec_x"})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"].(map[string]any)["message"], "url")
}

func TestAPI_FlushDataResetsEverything(t *testing.T) {
	api := newAPI(t)

	_, cus := api.do(t, http.MethodPost, "/v1/customers", nil)
	cusID := cus["id"].(string)

	status, _ := api.do(t, http.MethodDelete, "/_config/data", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = api.do(t, http.MethodGet, "/v1/customers/"+cusID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, list := api.do(t, http.MethodGet, "/v1/events", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, list["data"])
}

func TestAPI_SubscriptionEndToEnd(t *testing.T) {
	api := newAPI(t)

	_, cus := api.do(t, http.MethodPost, "/v1/customers", nil)
	cusID := cus["id"].(string)
	_, pm := api.do(t, http.MethodPost, "/v1/payment_methods", map[string]any{
		"type": "card",
		"card": map[string]any{"number": "4242424242424242", "exp_month": 12, "exp_year": 2030, "cvc": "123"},
	})
	pmID := pm["id"].(string)
	api.do(t, http.MethodPost, "/v1/payment_methods/"+pmID+"/attach", map[string]any{"customer": cusID})
	api.do(t, http.MethodPost, "/v1/customers/"+cusID, map[string]any{
		"invoice_settings_default_payment_method": pmID,
	})

	status, _ := api.do(t, http.MethodPost, "/v1/products", map[string]any{
		"id": "prod_gold", "name": "Gold"})
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(t, http.MethodPost, "/v1/plans", map[string]any{
		"id": "gold-monthly", "amount": 1500, "currency": "eur",
		"interval": "month", "product": "prod_gold"})
	require.Equal(t, http.StatusOK, status)

	status, sub := api.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"customer": cusID,
		"items":    []map[string]any{{"plan": "gold-monthly"}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", sub["status"])
	assert.NotEmpty(t, sub["latest_invoice"])

	status, inv := api.do(t, http.MethodGet, "/v1/invoices/"+sub["latest_invoice"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid", inv["status"])
	assert.Equal(t, float64(1500), inv["total"])

	// The upcoming invoice previews the renewal without persisting.
	status, upcoming := api.do(t, http.MethodGet, "/v1/invoices/upcoming?customer="+cusID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, upcoming, "id")
	assert.Equal(t, float64(1500), upcoming["total"])
}

func TestAPI_PaymentIntentThreeDSecureFlow(t *testing.T) {
	api := newAPI(t)

	_, pm := api.do(t, http.MethodPost, "/v1/payment_methods", map[string]any{
		"type": "card",
		"card": map[string]any{"number": "4000002500003155", "exp_month": 1, "exp_year": 2031, "cvc": "123"},
	})
	pmID := pm["id"].(string)

	status, pi := api.do(t, http.MethodPost, "/v1/payment_intents", map[string]any{
		"amount": 900, "currency": "eur",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "requires_payment_method", pi["status"])
	piID := pi["id"].(string)

	status, pi = api.do(t, http.MethodPost, "/v1/payment_intents/"+piID+"/confirm",
		map[string]any{"payment_method": pmID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "requires_action", pi["status"])

	status, pi = api.do(t, http.MethodPost, "/v1/payment_intents/"+piID+"/_authenticate",
		map[string]any{"success": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "succeeded", pi["status"])
}

func TestAPI_HealthEndpointUnauthenticated(t *testing.T) {
	api := newAPI(t)

	resp, err := http.Get(api.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
