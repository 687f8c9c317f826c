package event

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectWebhookEndpoint is the stored object name for registered webhook
// endpoints.
const ObjectWebhookEndpoint = "webhook_endpoint"

// SignatureHeader carries the delivery signature, in the simulated
// platform's format: t=<unix_ts>,v1=<hex hmac-sha256>.
const SignatureHeader = "Stripe-Signature"

// Endpoint is a registered webhook destination. Events is an optional
// allowlist of event types; nil means deliver everything.
type Endpoint struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// Scheduler runs a function after a delay. The real implementation is
// timer-backed; tests substitute a manual one to drain callbacks
// deterministically.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler schedules on real timers.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Dispatcher creates events and delivers them to registered endpoints.
// Delivery never blocks or fails the request that triggered the event.
type Dispatcher struct {
	engine *resource.Engine
	logger *slog.Logger
	sched  Scheduler
	client *http.Client
	delay  time.Duration
}

// NewDispatcher creates a dispatcher. delay is the fixed simulated network
// delay before each delivery attempt.
func NewDispatcher(eng *resource.Engine, logger *slog.Logger, sched Scheduler, delay time.Duration) *Dispatcher {
	return &Dispatcher{
		engine: eng,
		logger: logger,
		sched:  sched,
		client: &http.Client{Timeout: 30 * time.Second},
		delay:  delay,
	}
}

// RegisterEndpoint upserts a webhook endpoint under the caller-chosen id.
func (d *Dispatcher) RegisterEndpoint(ctx context.Context, ep Endpoint) error {
	return d.engine.Save(ctx, ObjectWebhookEndpoint, ep.ID, &ep)
}

// RemoveEndpoint deletes a webhook endpoint.
func (d *Dispatcher) RemoveEndpoint(ctx context.Context, id string) error {
	return d.engine.Delete(ctx, ObjectWebhookEndpoint, id)
}

// Publish records an immutable event around the given resource snapshot
// and schedules its delivery. The snapshot must already be an exported
// representation: events freeze state at emission time.
func (d *Dispatcher) Publish(ctx context.Context, eventType string, snapshot map[string]any) (*Event, error) {
	e := &Event{
		Base: d.engine.NewBase(ObjectEvent, "evt_", ""),
		Type: eventType,
		Data: Data{Object: snapshot},
	}
	if err := d.engine.Create(ctx, ObjectEvent, e.ID, e); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(e.Export())
	if err != nil {
		return nil, err
	}

	d.sched.After(d.delay, func() {
		d.deliver(e.Type, e.Created, payload)
	})

	return e, nil
}

// deliver runs on the scheduler goroutine, after the simulated delay. It
// loads the endpoints registered at delivery time, filters by
// subscription, and POSTs the signed payload. Failures are logged and
// dropped: one attempt, no retry, no channel back to the original caller.
func (d *Dispatcher) deliver(eventType string, timestamp int64, payload []byte) {
	ctx := context.Background()

	docs, err := d.engine.All(ctx, ObjectWebhookEndpoint)
	if err != nil {
		d.logger.Error("webhook endpoint scan failed", "error", err)
		return
	}

	for _, doc := range docs {
		var ep Endpoint
		if err := json.Unmarshal(doc, &ep); err != nil {
			d.logger.Error("corrupt webhook endpoint", "error", err)
			continue
		}
		if ep.Events != nil && !slices.Contains(ep.Events, eventType) {
			continue
		}

		signature := Sign(payload, timestamp, ep.Secret)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			d.logger.Error("webhook request build failed", "url", ep.URL, "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=%s", timestamp, signature))

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Info("webhook delivery failed", "type", eventType, "url", ep.URL, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			d.logger.Info("webhook delivered", "type", eventType, "url", ep.URL)
		} else {
			d.logger.Info("webhook delivery failed", "type", eventType, "url", ep.URL, "status", resp.StatusCode)
		}
	}
}

// Sign computes the hex HMAC-SHA256 of "{timestamp}.{payload}" under
// secret, the signature an endpoint recomputes to authenticate a
// delivery.
func Sign(payload []byte, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeAll(docs [][]byte) ([]*Event, error) {
	events := make([]*Event, 0, len(docs))
	for _, doc := range docs {
		var e Event
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, nil
}
