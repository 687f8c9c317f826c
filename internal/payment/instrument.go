// Package payment implements customers, payment instruments, charges and
// the intent state machines. Card numbers index a fixed behavior table:
// a magic number decides deterministically whether attach or charge
// succeeds, declines, or demands authentication first.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// Stored object names for payment instruments.
const (
	ObjectCard          = "card"
	ObjectToken         = "token"
	ObjectSource        = "source"
	ObjectPaymentMethod = "payment_method"
)

// testIBANFails is the one IBAN whose debits settle as failed. Every
// other IBAN settles successfully after the asynchronous delay.
const testIBANFails = "DE62370400440532013001"

// cardBehavior is what a magic test number does at each step of its
// life. declineAtAttach implies declining at charge time too.
type cardBehavior struct {
	declineAtAttach   bool
	chargeDeclineCode string
	requiresAuth      bool
}

var testCards = map[string]cardBehavior{
	"4000000000000002": {declineAtAttach: true, chargeDeclineCode: "card_declined"},
	"4000000000000341": {chargeDeclineCode: "card_declined"},
	"4000000000000127": {chargeDeclineCode: "incorrect_cvc"},
	"4000000000000069": {chargeDeclineCode: "expired_card"},
	"4000000000000119": {chargeDeclineCode: "processing_error"},
	"4000002500003155": {requiresAuth: true},
	"4000008260003178": {requiresAuth: true, chargeDeclineCode: "insufficient_funds"},
}

func behaviorFor(number string) cardBehavior {
	return testCards[number]
}

// luhnValid reports whether number passes the Luhn checksum. Numbers
// that fail are rejected at creation with incorrect_number, before any
// object is stored.
func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return len(number) >= 12 && sum%10 == 0
}

func cardBrand(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "Visa"
	case strings.HasPrefix(number, "5"):
		return "MasterCard"
	case strings.HasPrefix(number, "3"):
		return "American Express"
	default:
		return "Unknown"
	}
}

// CardParams are the raw card details supplied at tokenization or
// attach time.
type CardParams struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVC      string `json:"cvc"`
}

func (p CardParams) validate(op string) error {
	if !luhnValid(p.Number) {
		return domain.Invalid(op, "Your card number is incorrect.")
	}
	if p.ExpMonth < 1 || p.ExpMonth > 12 {
		return domain.Invalid(op, "Your card's expiration month is invalid.")
	}
	if p.ExpYear < 1000 {
		return domain.Invalid(op, "Your card's expiration year is invalid.")
	}
	return nil
}

// Card is a card attached to a customer. The full number is stored so
// charges can consult the behavior table, but it is never exported.
type Card struct {
	resource.Base
	Customer string `json:"customer"`
	Number   string `json:"number"`
	Last4    string `json:"last4"`
	Brand    string `json:"brand"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

func (c *Card) Export() map[string]any {
	m := c.ExportCommon()
	delete(m, "created")
	m["customer"] = c.Customer
	m["last4"] = c.Last4
	m["brand"] = c.Brand
	m["exp_month"] = c.ExpMonth
	m["exp_year"] = c.ExpYear
	m["funding"] = "credit"
	m["country"] = "US"
	return m
}

// Token is a short-lived wrapper around card details, produced by
// client-side tokenization and consumed once at attach time.
type Token struct {
	resource.Base
	Card CardParams `json:"card"`
	Used bool       `json:"used"`
}

func (t *Token) Export() map[string]any {
	m := t.ExportCommon()
	delete(m, "metadata")
	m["type"] = "card"
	m["used"] = t.Used
	m["card"] = map[string]any{
		"last4":     last4(t.Card.Number),
		"brand":     cardBrand(t.Card.Number),
		"exp_month": t.Card.ExpMonth,
		"exp_year":  t.Card.ExpYear,
	}
	return m
}

// SourceParams are the details for creating a source. Only sepa_debit
// sources are supported.
type SourceParams struct {
	Type     string            `json:"type"`
	Currency string            `json:"currency"`
	IBAN     string            `json:"iban"`
	Owner    map[string]string `json:"owner"`
	Metadata map[string]string `json:"metadata"`
}

// Source is a SEPA debit source. It starts chargeable; the asynchrony
// lives in the charge it funds, not in the source itself.
type Source struct {
	resource.Base
	Type     string            `json:"type"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Customer string            `json:"customer"`
	IBAN     string            `json:"iban"`
	Owner    map[string]string `json:"owner"`
}

func (s *Source) Export() map[string]any {
	m := s.ExportCommon()
	m["type"] = s.Type
	m["currency"] = s.Currency
	m["status"] = s.Status
	m["customer"] = orNil(s.Customer)
	m["owner"] = s.Owner
	m["usage"] = "reusable"
	m["sepa_debit"] = map[string]any{
		"last4":   last4(s.IBAN),
		"country": countryOf(s.IBAN),
	}
	return m
}

// PaymentMethod is the modern instrument object: a card or a SEPA
// debit mandate, attachable to one customer.
type PaymentMethod struct {
	resource.Base
	Type     string `json:"type"`
	Customer string `json:"customer"`

	// Card details, set when Type is "card".
	Number   string `json:"number,omitempty"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`

	// IBAN, set when Type is "sepa_debit".
	IBAN string `json:"iban,omitempty"`
}

func (pm *PaymentMethod) Export() map[string]any {
	m := pm.ExportCommon()
	m["type"] = pm.Type
	m["customer"] = orNil(pm.Customer)
	switch pm.Type {
	case "card":
		m["card"] = map[string]any{
			"last4":     last4(pm.Number),
			"brand":     strings.ToLower(strings.ReplaceAll(cardBrand(pm.Number), " ", "_")),
			"exp_month": pm.ExpMonth,
			"exp_year":  pm.ExpYear,
			"checks":    map[string]any{"cvc_check": "pass"},
		}
	case "sepa_debit":
		m["sepa_debit"] = map[string]any{
			"last4":   last4(pm.IBAN),
			"country": countryOf(pm.IBAN),
		}
	}
	return m
}

func last4(s string) string {
	if len(s) < 4 {
		return s
	}
	return s[len(s)-4:]
}

func countryOf(iban string) string {
	if len(iban) < 2 {
		return ""
	}
	return iban[:2]
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateToken tokenizes card details. The behavior table is consulted
// only later; tokenization itself validates shape, not solvency.
func (s *Service) CreateToken(ctx context.Context, card CardParams) (*Token, error) {
	const op = "token.create"
	if err := card.validate(op); err != nil {
		return nil, err
	}
	t := &Token{Base: s.engine.NewBase(ObjectToken, "tok_", ""), Card: card}
	if err := s.engine.Create(ctx, ObjectToken, t.ID, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RetrieveToken loads a token by id.
func (s *Service) RetrieveToken(ctx context.Context, id string) (*Token, error) {
	var t Token
	if err := s.engine.Retrieve(ctx, ObjectToken, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// consumeToken marks a token used and hands back its card details. A
// token attaches exactly once.
func (s *Service) consumeToken(ctx context.Context, id string) (CardParams, error) {
	const op = "token.consume"
	t, err := s.RetrieveToken(ctx, id)
	if err != nil {
		return CardParams{}, err
	}
	if t.Used {
		return CardParams{}, domain.Invalid(op, fmt.Sprintf("Token %s has already been used.", id))
	}
	t.Used = true
	if err := s.engine.Save(ctx, ObjectToken, t.ID, t); err != nil {
		return CardParams{}, err
	}
	return t.Card, nil
}

// CreateSource creates a sepa_debit source.
func (s *Service) CreateSource(ctx context.Context, params SourceParams) (*Source, error) {
	const op = "source.create"
	if params.Type != "sepa_debit" {
		return nil, domain.NotImplemented(op, fmt.Sprintf("source type %q", params.Type))
	}
	if params.IBAN == "" {
		return nil, domain.Invalid(op, "Missing required param: sepa_debit[iban].")
	}
	src := &Source{
		Base:     s.engine.NewBase(ObjectSource, "src_", ""),
		Type:     params.Type,
		Currency: defaultString(params.Currency, "eur"),
		Status:   "chargeable",
		IBAN:     strings.ToUpper(params.IBAN),
		Owner:    params.Owner,
	}
	src.Metadata = params.Metadata
	if err := s.engine.Create(ctx, ObjectSource, src.ID, src); err != nil {
		return nil, err
	}
	return src, nil
}

// RetrieveSource loads a source by id.
func (s *Service) RetrieveSource(ctx context.Context, id string) (*Source, error) {
	var src Source
	if err := s.engine.Retrieve(ctx, ObjectSource, id, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// PaymentMethodParams are the details for creating a payment method.
type PaymentMethodParams struct {
	Type     string            `json:"type"`
	Card     CardParams        `json:"card"`
	IBAN     string            `json:"iban"`
	Metadata map[string]string `json:"metadata"`
}

// CreatePaymentMethod creates a detached payment method.
func (s *Service) CreatePaymentMethod(ctx context.Context, params PaymentMethodParams) (*PaymentMethod, error) {
	const op = "payment_method.create"
	pm := &PaymentMethod{
		Base: s.engine.NewBase(ObjectPaymentMethod, "pm_", ""),
		Type: params.Type,
	}
	pm.Metadata = params.Metadata
	switch params.Type {
	case "card":
		if err := params.Card.validate(op); err != nil {
			return nil, err
		}
		pm.Number = params.Card.Number
		pm.ExpMonth = params.Card.ExpMonth
		pm.ExpYear = params.Card.ExpYear
	case "sepa_debit":
		if params.IBAN == "" {
			return nil, domain.Invalid(op, "Missing required param: sepa_debit[iban].")
		}
		pm.IBAN = strings.ToUpper(params.IBAN)
	default:
		return nil, domain.Invalid(op, fmt.Sprintf("Invalid type: must be one of card or sepa_debit, not %q.", params.Type))
	}
	if err := s.engine.Create(ctx, ObjectPaymentMethod, pm.ID, pm); err != nil {
		return nil, err
	}
	return pm, nil
}

// RetrievePaymentMethod loads a payment method by id.
func (s *Service) RetrievePaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	var pm PaymentMethod
	if err := s.engine.Retrieve(ctx, ObjectPaymentMethod, id, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

// UpdatePaymentMethod patches expiry and metadata on a card payment
// method.
type PaymentMethodUpdate struct {
	ExpMonth *int              `json:"exp_month"`
	ExpYear  *int              `json:"exp_year"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Service) UpdatePaymentMethod(ctx context.Context, id string, upd PaymentMethodUpdate) (*PaymentMethod, error) {
	pm, err := s.RetrievePaymentMethod(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.ExpMonth != nil {
		pm.ExpMonth = *upd.ExpMonth
	}
	if upd.ExpYear != nil {
		pm.ExpYear = *upd.ExpYear
	}
	pm.Metadata = resource.MergeMetadata(pm.Metadata, upd.Metadata)
	if err := s.engine.Save(ctx, ObjectPaymentMethod, pm.ID, pm); err != nil {
		return nil, err
	}
	return pm, nil
}

// AttachPaymentMethod binds a payment method to a customer. The
// attach-time decline table applies: a card that declines at attach is
// rejected here and never bound.
func (s *Service) AttachPaymentMethod(ctx context.Context, id, customerID string) (*PaymentMethod, error) {
	const op = "payment_method.attach"
	pm, err := s.RetrievePaymentMethod(ctx, id)
	if err != nil {
		return nil, err
	}
	if pm.Customer != "" {
		return nil, domain.Invalid(op, fmt.Sprintf("The payment method you provided has already been attached to a customer: %s.", pm.Customer))
	}
	if _, err := s.RetrieveCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	if pm.Type == "card" && behaviorFor(pm.Number).declineAtAttach {
		return nil, domain.Declined(op, "card_declined", "")
	}
	pm.Customer = customerID
	if err := s.engine.Save(ctx, ObjectPaymentMethod, pm.ID, pm); err != nil {
		return nil, err
	}
	s.publish(ctx, "payment_method.attached", pm.Export())
	return pm, nil
}

// DetachPaymentMethod unbinds a payment method from its customer.
func (s *Service) DetachPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	pm, err := s.RetrievePaymentMethod(ctx, id)
	if err != nil {
		return nil, err
	}
	pm.Customer = ""
	if err := s.engine.Save(ctx, ObjectPaymentMethod, pm.ID, pm); err != nil {
		return nil, err
	}
	return pm, nil
}

// ListPaymentMethods returns the payment methods attached to a
// customer, optionally filtered by type.
func (s *Service) ListPaymentMethods(ctx context.Context, customerID, pmType string) ([]*PaymentMethod, error) {
	docs, err := s.engine.All(ctx, ObjectPaymentMethod)
	if err != nil {
		return nil, err
	}
	var out []*PaymentMethod
	for _, doc := range docs {
		var pm PaymentMethod
		if err := json.Unmarshal(doc, &pm); err != nil {
			return nil, err
		}
		if pm.Customer != customerID {
			continue
		}
		if pmType != "" && pm.Type != pmType {
			continue
		}
		out = append(out, &pm)
	}
	return out, nil
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
