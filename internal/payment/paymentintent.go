package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectPaymentIntent is the stored object name for payment intents.
const ObjectPaymentIntent = "payment_intent"

// PaymentIntent tracks one payment through possibly several charge
// attempts. Its status is never stored: it is derived from the canceled
// flag, the attached method, the pending action and the last charge.
type PaymentIntent struct {
	resource.Base
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Customer      string         `json:"customer"`
	Method        string         `json:"method"`
	CaptureMethod string         `json:"capture_method"`
	ClientSecret  string         `json:"client_secret"`
	Charges       []string       `json:"charges"`
	NextAction    map[string]any `json:"next_action"`
	Invoice       string         `json:"invoice"`
	CanceledAt    int64          `json:"canceled_at"`
	LastError     *IntentError   `json:"last_error"`
}

// IntentError is the remembered outcome of the latest failed attempt.
type IntentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Charge      string `json:"charge"`
}

// PaymentIntentStatus derives the intent's public status.
func (s *Service) PaymentIntentStatus(ctx context.Context, pi *PaymentIntent) (string, error) {
	if pi.CanceledAt != 0 {
		return "canceled", nil
	}
	if pi.Method == "" {
		return "requires_payment_method", nil
	}
	if pi.NextAction != nil {
		return "requires_action", nil
	}
	if len(pi.Charges) == 0 {
		return "requires_confirmation", nil
	}
	last, err := s.RetrieveCharge(ctx, pi.Charges[len(pi.Charges)-1])
	if err != nil {
		return "", err
	}
	switch {
	case last.Status == "pending":
		return "processing", nil
	case last.Status == "failed":
		return "requires_payment_method", nil
	case last.Status == "succeeded" && !last.Captured && pi.CaptureMethod == "manual":
		return "requires_capture", nil
	default:
		return "succeeded", nil
	}
}

// ExportPaymentIntent renders the intent with derived status and
// embedded charges.
func (s *Service) ExportPaymentIntent(ctx context.Context, pi *PaymentIntent) (map[string]any, error) {
	status, err := s.PaymentIntentStatus(ctx, pi)
	if err != nil {
		return nil, err
	}

	charges := make([]map[string]any, 0, len(pi.Charges))
	for _, id := range pi.Charges {
		ch, err := s.RetrieveCharge(ctx, id)
		if err != nil {
			return nil, err
		}
		charges = append(charges, ch.Export())
	}

	m := pi.ExportCommon()
	m["amount"] = pi.Amount
	m["currency"] = pi.Currency
	m["customer"] = orNil(pi.Customer)
	m["payment_method"] = orNil(pi.Method)
	m["capture_method"] = pi.CaptureMethod
	m["client_secret"] = pi.ClientSecret
	m["status"] = status
	m["next_action"] = pi.NextAction
	m["invoice"] = orNil(pi.Invoice)
	m["charges"] = map[string]any{
		"object":      "list",
		"url":         fmt.Sprintf("/v1/charges?payment_intent=%s", pi.ID),
		"data":        charges,
		"total_count": len(charges),
		"has_more":    false,
	}
	if pi.CanceledAt != 0 {
		m["canceled_at"] = pi.CanceledAt
	} else {
		m["canceled_at"] = nil
	}
	if pi.LastError != nil {
		m["last_payment_error"] = map[string]any{
			"code":         pi.LastError.Code,
			"decline_code": orNil(pi.LastError.DeclineCode),
			"message":      pi.LastError.Message,
			"charge":       orNil(pi.LastError.Charge),
			"type":         "card_error",
		}
	} else {
		m["last_payment_error"] = nil
	}
	return m, nil
}

// PaymentIntentParams are the accepted create fields.
type PaymentIntentParams struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Customer      string            `json:"customer"`
	PaymentMethod string            `json:"payment_method"`
	CaptureMethod string            `json:"capture_method"`
	Confirm       bool              `json:"confirm"`
	Metadata      map[string]string `json:"metadata"`
}

// CreatePaymentIntent creates an intent, confirming it immediately when
// asked to.
func (s *Service) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	const op = "payment_intent.create"
	if params.Amount <= 0 {
		return nil, domain.Invalid(op, "Amount must be a positive integer.")
	}
	if params.Currency == "" {
		return nil, domain.Invalid(op, "Missing required param: currency.")
	}
	captureMethod := defaultString(params.CaptureMethod, "automatic")
	if captureMethod != "automatic" && captureMethod != "manual" {
		return nil, domain.Invalid(op, fmt.Sprintf("Invalid capture_method: %q.", params.CaptureMethod))
	}
	if params.Customer != "" {
		if _, err := s.RetrieveCustomer(ctx, params.Customer); err != nil {
			return nil, err
		}
	}

	pi := &PaymentIntent{
		Base:          s.engine.NewBase(ObjectPaymentIntent, "pi_", ""),
		Amount:        params.Amount,
		Currency:      params.Currency,
		Customer:      params.Customer,
		Method:        params.PaymentMethod,
		CaptureMethod: captureMethod,
	}
	pi.ClientSecret = fmt.Sprintf("%s_secret_%s", pi.ID, resource.RandomID(16))
	pi.Metadata = params.Metadata
	if err := s.engine.Create(ctx, ObjectPaymentIntent, pi.ID, pi); err != nil {
		return nil, err
	}

	if params.Confirm {
		return s.ConfirmPaymentIntent(ctx, pi.ID, "")
	}
	return pi, nil
}

// CreatePaymentIntentForInvoice creates the intent that will collect an
// invoice, unconfirmed. The billing layer owns when it runs.
func (s *Service) CreatePaymentIntentForInvoice(ctx context.Context, amount int64, currency, customerID, invoiceID string) (*PaymentIntent, error) {
	c, err := s.RetrieveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	pi := &PaymentIntent{
		Base:          s.engine.NewBase(ObjectPaymentIntent, "pi_", ""),
		Amount:        amount,
		Currency:      currency,
		Customer:      customerID,
		Method:        s.defaultInstrument(ctx, c),
		CaptureMethod: "automatic",
		Invoice:       invoiceID,
	}
	pi.ClientSecret = fmt.Sprintf("%s_secret_%s", pi.ID, resource.RandomID(16))
	if err := s.engine.Create(ctx, ObjectPaymentIntent, pi.ID, pi); err != nil {
		return nil, err
	}
	return pi, nil
}

// RetrievePaymentIntent loads an intent by id.
func (s *Service) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := s.engine.Retrieve(ctx, ObjectPaymentIntent, id, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// ListPaymentIntents returns intents, optionally filtered by customer,
// oldest first.
func (s *Service) ListPaymentIntents(ctx context.Context, customerID string) ([]*PaymentIntent, error) {
	docs, err := s.engine.All(ctx, ObjectPaymentIntent)
	if err != nil {
		return nil, err
	}
	var out []*PaymentIntent
	for _, doc := range docs {
		var pi PaymentIntent
		if err := json.Unmarshal(doc, &pi); err != nil {
			return nil, err
		}
		if customerID != "" && pi.Customer != customerID {
			continue
		}
		out = append(out, &pi)
	}
	sortByCreated(out, func(pi *PaymentIntent) (int64, string) { return pi.Created, pi.ID })
	return out, nil
}

// ConfirmPaymentIntent runs the intent's payment attempt. A card that
// demands authentication parks the intent in requires_action instead of
// charging; a decline is surfaced as a payment error while the intent
// stays retryable with another method.
func (s *Service) ConfirmPaymentIntent(ctx context.Context, id, paymentMethod string) (*PaymentIntent, error) {
	const op = "payment_intent.confirm"
	pi, err := s.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if pi.CanceledAt != 0 {
		return nil, domain.Invalid(op, "This PaymentIntent has been canceled.")
	}
	if paymentMethod != "" {
		pi.Method = paymentMethod
	}
	if pi.Method == "" {
		return nil, domain.Invalid(op, "You cannot confirm this PaymentIntent because it's missing a payment method.")
	}

	kind, number, err := s.instrumentKind(ctx, pi.Method)
	if err != nil {
		return nil, err
	}
	if kind == "card" && behaviorFor(number).requiresAuth {
		pi.NextAction = map[string]any{"type": "use_stripe_sdk", "use_stripe_sdk": map[string]any{"type": "three_d_secure_redirect"}}
		if err := s.engine.Save(ctx, ObjectPaymentIntent, pi.ID, pi); err != nil {
			return nil, err
		}
		return pi, nil
	}
	return s.attemptCharge(ctx, pi)
}

// AuthenticatePaymentIntent completes the simulated 3-D Secure flow and
// runs the charge that was parked behind it. With success=false the
// customer abandoned the challenge and the intent rolls back to
// requires_payment_method.
func (s *Service) AuthenticatePaymentIntent(ctx context.Context, id string, success bool) (*PaymentIntent, error) {
	const op = "payment_intent.authenticate"
	pi, err := s.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if pi.NextAction == nil {
		return nil, domain.Invalid(op, "This PaymentIntent does not require an action.")
	}
	pi.NextAction = nil
	if !success {
		pi.Method = ""
		pi.LastError = &IntentError{
			Code:    "payment_intent_authentication_failure",
			Message: "The provided PaymentMethod has failed authentication.",
		}
		if err := s.engine.Save(ctx, ObjectPaymentIntent, pi.ID, pi); err != nil {
			return nil, err
		}
		return pi, nil
	}
	return s.attemptCharge(ctx, pi)
}

// attemptCharge runs one charge for the intent and folds the outcome
// back into it. On a decline the stored intent remembers the error and
// the failed charge, and the decline is returned to the caller.
func (s *Service) attemptCharge(ctx context.Context, pi *PaymentIntent) (*PaymentIntent, error) {
	ch := &Charge{
		Base:          s.engine.NewBase(ObjectCharge, "ch_", ""),
		Amount:        pi.Amount,
		Currency:      pi.Currency,
		Customer:      pi.Customer,
		Instrument:    pi.Method,
		Captured:      pi.CaptureMethod == "automatic",
		Invoice:       pi.Invoice,
		PaymentIntent: pi.ID,
	}
	ch, chargeErr := s.runCharge(ctx, ch)
	if chargeErr != nil && ch == nil {
		return nil, chargeErr
	}

	pi.Charges = append(pi.Charges, ch.ID)
	if chargeErr != nil {
		declineCode, chargeID := domain.ErrorDetails(chargeErr)
		pi.LastError = &IntentError{
			Code:        "card_declined",
			DeclineCode: declineCode,
			Message:     domain.ErrorMessage(chargeErr),
			Charge:      chargeID,
		}
	} else {
		pi.LastError = nil
	}
	if err := s.engine.Save(ctx, ObjectPaymentIntent, pi.ID, pi); err != nil {
		return nil, err
	}

	if chargeErr != nil {
		s.publishIntentEvent(ctx, "payment_intent.payment_failed", pi)
		s.notifyInvoice(ctx, ch, false, false)
		return pi, chargeErr
	}
	if ch.Status == "succeeded" {
		s.publishIntentEvent(ctx, "payment_intent.succeeded", pi)
		s.notifyInvoice(ctx, ch, true, false)
	}
	return pi, nil
}

// CapturePaymentIntent captures the uncaptured charge behind a manual
// intent.
func (s *Service) CapturePaymentIntent(ctx context.Context, id string, amountToCapture *int64) (*PaymentIntent, error) {
	const op = "payment_intent.capture"
	pi, err := s.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := s.PaymentIntentStatus(ctx, pi)
	if err != nil {
		return nil, err
	}
	if status != "requires_capture" {
		return nil, domain.Invalid(op, fmt.Sprintf("PaymentIntent could not be captured because it has a status of %s.", status))
	}
	if _, err := s.CaptureCharge(ctx, pi.Charges[len(pi.Charges)-1], amountToCapture); err != nil {
		return nil, err
	}
	s.publishIntentEvent(ctx, "payment_intent.succeeded", pi)
	return pi, nil
}

// CancelPaymentIntent cancels an intent that has not succeeded.
func (s *Service) CancelPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	const op = "payment_intent.cancel"
	pi, err := s.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := s.PaymentIntentStatus(ctx, pi)
	if err != nil {
		return nil, err
	}
	if status == "succeeded" {
		return nil, domain.Invalid(op, "You cannot cancel this PaymentIntent because it has a status of succeeded.")
	}
	if pi.CanceledAt == 0 {
		pi.CanceledAt = s.engine.Now().Unix()
		pi.NextAction = nil
		if err := s.engine.Save(ctx, ObjectPaymentIntent, pi.ID, pi); err != nil {
			return nil, err
		}
		if s.invoices != nil && pi.Invoice != "" {
			if err := s.invoices.PaymentCanceled(ctx, pi.Invoice); err != nil {
				s.logger.Error("invoice cancellation hook failed", "invoice", pi.Invoice, "intent", pi.ID, "error", err)
			}
		}
	}
	return pi, nil
}

func (s *Service) publishIntentEvent(ctx context.Context, eventType string, pi *PaymentIntent) {
	snapshot, err := s.ExportPaymentIntent(ctx, pi)
	if err != nil {
		s.logger.Error("intent export for event failed", "intent", pi.ID, "error", err)
		return
	}
	s.publish(ctx, eventType, snapshot)
}
