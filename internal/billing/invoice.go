package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectInvoice is the stored object name for invoices.
const ObjectInvoice = "invoice"

// Line is one invoice line. Lines are embedded in their invoice and
// frozen once the invoice exists; totals are recomputed from them on
// every export.
type Line struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	Quantity    int64    `json:"quantity"`
	Plan        string   `json:"plan"`
	Proration   bool     `json:"proration"`
	Period      Period   `json:"period"`
	TaxRates    []string `json:"tax_rates"`
	SourceItem  string   `json:"source_item"`
}

// Invoice collects lines for a customer. Status is derived: void wins,
// then paid, then open once finalized, else draft.
type Invoice struct {
	resource.Base
	Customer        string   `json:"customer"`
	Subscription    string   `json:"subscription"`
	Currency        string   `json:"currency"`
	Description     string   `json:"description"`
	Lines           []Line   `json:"lines"`
	TaxPercent      *float64 `json:"tax_percent"`
	DefaultTaxRates []string `json:"default_tax_rates"`
	PaymentIntent   string   `json:"payment_intent"`
	Charge          string   `json:"charge"`
	BillingReason   string   `json:"billing_reason"`
	PeriodStart     int64    `json:"period_start"`
	PeriodEnd       int64    `json:"period_end"`
	FinalizedAt     int64    `json:"finalized_at"`
	Paid            bool     `json:"paid"`
	Voided          bool     `json:"voided"`
	Attempted       bool     `json:"attempted"`
}

// Status derives the invoice's public status from stored facts.
func (inv *Invoice) Status() string {
	switch {
	case inv.Voided:
		return "void"
	case inv.Paid:
		return "paid"
	case inv.FinalizedAt != 0:
		return "open"
	default:
		return "draft"
	}
}

// Subtotal is the sum of the lines, before tax.
func (inv *Invoice) Subtotal() int64 {
	var sum int64
	for _, l := range inv.Lines {
		sum += l.Amount
	}
	return sum
}

// taxAmount is floor(amount * percentage / 100), per line and per
// rate. Flooring happens at each application, not once on the sum.
func taxAmount(amount int64, percentage float64) int64 {
	return int64(math.Floor(float64(amount) * percentage / 100))
}

// Tax computes the invoice's total tax. Per-line rates win; the legacy
// tax_percent applies to the whole subtotal when no line carries rates.
func (s *Service) Tax(ctx context.Context, inv *Invoice) (int64, error) {
	var total int64
	usedLineRates := false
	for _, l := range inv.Lines {
		rateIDs := l.TaxRates
		if len(rateIDs) == 0 {
			rateIDs = inv.DefaultTaxRates
		}
		if len(rateIDs) == 0 {
			continue
		}
		usedLineRates = true
		rates, err := s.loadTaxRates(ctx, rateIDs)
		if err != nil {
			return 0, err
		}
		for _, r := range rates {
			total += taxAmount(l.Amount, r.Percentage)
		}
	}
	if !usedLineRates && inv.TaxPercent != nil {
		total = taxAmount(inv.Subtotal(), *inv.TaxPercent)
	}
	return total, nil
}

// ExportInvoice renders the invoice with derived status and totals.
func (s *Service) ExportInvoice(ctx context.Context, inv *Invoice) (map[string]any, error) {
	subtotal := inv.Subtotal()
	tax, err := s.Tax(ctx, inv)
	if err != nil {
		return nil, err
	}
	total := subtotal + tax

	lines := make([]map[string]any, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		line := map[string]any{
			"id":          l.ID,
			"object":      "line_item",
			"type":        l.Type,
			"amount":      l.Amount,
			"currency":    l.Currency,
			"description": orNil(l.Description),
			"quantity":    l.Quantity,
			"proration":   l.Proration,
			"period":      map[string]any{"start": l.Period.Start, "end": l.Period.End},
			"tax_rates":   l.TaxRates,
		}
		if l.Plan != "" {
			p, err := s.RetrievePlan(ctx, l.Plan)
			if err != nil {
				return nil, err
			}
			line["plan"] = p.Export()
		} else {
			line["plan"] = nil
		}
		lines = append(lines, line)
	}

	amountPaid := int64(0)
	amountDue := total
	if inv.Paid {
		amountPaid = total
		amountDue = 0
	}

	m := inv.ExportCommon()
	m["customer"] = inv.Customer
	m["subscription"] = orNil(inv.Subscription)
	m["currency"] = inv.Currency
	m["description"] = orNil(inv.Description)
	m["status"] = inv.Status()
	m["subtotal"] = subtotal
	m["tax"] = tax
	m["total"] = total
	m["amount_due"] = amountDue
	m["amount_paid"] = amountPaid
	m["attempted"] = inv.Attempted
	m["paid"] = inv.Paid
	m["payment_intent"] = orNil(inv.PaymentIntent)
	m["charge"] = orNil(inv.Charge)
	m["billing_reason"] = orNil(inv.BillingReason)
	m["period_start"] = inv.PeriodStart
	m["period_end"] = inv.PeriodEnd
	if inv.TaxPercent != nil {
		m["tax_percent"] = *inv.TaxPercent
	} else {
		m["tax_percent"] = nil
	}
	m["default_tax_rates"] = inv.DefaultTaxRates
	m["lines"] = map[string]any{
		"object":      "list",
		"url":         fmt.Sprintf("/v1/invoices/%s/lines", inv.ID),
		"data":        lines,
		"total_count": len(lines),
		"has_more":    false,
	}
	return m, nil
}

// InvoiceParams are the accepted create fields.
type InvoiceParams struct {
	Customer        string            `json:"customer"`
	Description     *string           `json:"description"`
	TaxPercent      *float64          `json:"tax_percent"`
	DefaultTaxRates []string          `json:"default_tax_rates"`
	Metadata        map[string]string `json:"metadata"`
}

// CreateInvoice sweeps the customer's pending invoice items into a new
// draft invoice. With nothing pending there is nothing to invoice.
func (s *Service) CreateInvoice(ctx context.Context, params InvoiceParams) (*Invoice, error) {
	const op = "invoice.create"
	if params.Customer == "" {
		return nil, domain.Invalid(op, "Missing required param: customer.")
	}
	if _, err := s.payments.RetrieveCustomer(ctx, params.Customer); err != nil {
		return nil, err
	}
	items, err := s.pendingInvoiceItems(ctx, params.Customer)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.Invalid(op, fmt.Sprintf("Nothing to invoice for customer %s.", params.Customer))
	}

	now := s.engine.Now().Unix()
	inv := &Invoice{
		Base:            s.engine.NewBase(ObjectInvoice, "in_", ""),
		Customer:        params.Customer,
		Currency:        items[0].Currency,
		TaxPercent:      params.TaxPercent,
		DefaultTaxRates: params.DefaultTaxRates,
		BillingReason:   "manual",
		PeriodStart:     now,
		PeriodEnd:       now,
	}
	if params.Description != nil {
		inv.Description = *params.Description
	}
	inv.Metadata = params.Metadata
	for _, item := range items {
		inv.Lines = append(inv.Lines, lineFromItem(item))
	}
	if _, err := s.loadTaxRates(ctx, params.DefaultTaxRates); err != nil {
		return nil, err
	}
	if err := s.engine.Create(ctx, ObjectInvoice, inv.ID, inv); err != nil {
		return nil, err
	}
	for _, item := range items {
		item.Invoice = inv.ID
		if err := s.engine.Save(ctx, ObjectInvoiceItem, item.ID, item); err != nil {
			return nil, err
		}
	}
	s.publishInvoiceEvent(ctx, "invoice.created", inv)
	return inv, nil
}

func lineFromItem(item *InvoiceItem) Line {
	return Line{
		ID:          "il_" + resource.RandomID(14),
		Type:        "invoiceitem",
		Amount:      item.Amount,
		Currency:    item.Currency,
		Description: item.Description,
		Quantity:    1,
		Proration:   item.Proration,
		Period:      item.Period,
		TaxRates:    item.TaxRates,
		SourceItem:  item.ID,
	}
}

// RetrieveInvoice loads an invoice by id.
func (s *Service) RetrieveInvoice(ctx context.Context, id string) (*Invoice, error) {
	var inv Invoice
	if err := s.engine.Retrieve(ctx, ObjectInvoice, id, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInvoices returns invoices, optionally filtered by customer or
// subscription, oldest first.
func (s *Service) ListInvoices(ctx context.Context, customerID, subscriptionID string) ([]*Invoice, error) {
	docs, err := s.engine.All(ctx, ObjectInvoice)
	if err != nil {
		return nil, err
	}
	var out []*Invoice
	for _, doc := range docs {
		var inv Invoice
		if err := json.Unmarshal(doc, &inv); err != nil {
			return nil, err
		}
		if customerID != "" && inv.Customer != customerID {
			continue
		}
		if subscriptionID != "" && inv.Subscription != subscriptionID {
			continue
		}
		out = append(out, &inv)
	}
	sortByCreated(out, func(i *Invoice) (int64, string) { return i.Created, i.ID })
	return out, nil
}

// FinalizeInvoice moves a draft to open and provisions the payment
// intent that will collect it.
func (s *Service) FinalizeInvoice(ctx context.Context, id string) (*Invoice, error) {
	const op = "invoice.finalize"
	inv, err := s.RetrieveInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status() != "draft" {
		return nil, domain.Invalid(op, fmt.Sprintf("This invoice cannot be finalized because it has a status of %s.", inv.Status()))
	}
	inv.FinalizedAt = s.engine.Now().Unix()

	subtotal := inv.Subtotal()
	tax, err := s.Tax(ctx, inv)
	if err != nil {
		return nil, err
	}
	total := subtotal + tax
	if total > 0 {
		pi, err := s.payments.CreatePaymentIntentForInvoice(ctx, total, inv.Currency, inv.Customer, inv.ID)
		if err != nil {
			return nil, err
		}
		inv.PaymentIntent = pi.ID
	}
	if err := s.engine.Save(ctx, ObjectInvoice, inv.ID, inv); err != nil {
		return nil, err
	}
	s.publishInvoiceEvent(ctx, "invoice.finalized", inv)
	if total <= 0 {
		// No money to collect: the invoice is paid the moment it
		// finalizes.
		return s.markInvoicePaid(ctx, inv, "")
	}
	return inv, nil
}

// PayInvoice collects an invoice, finalizing it first when needed. A
// zero-total invoice is simply marked paid. Asynchronous instruments
// leave the invoice open until settlement; the hooks close it.
func (s *Service) PayInvoice(ctx context.Context, id string) (*Invoice, error) {
	const op = "invoice.pay"
	inv, err := s.RetrieveInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	switch inv.Status() {
	case "draft":
		if inv, err = s.FinalizeInvoice(ctx, id); err != nil {
			return nil, err
		}
	case "paid":
		return nil, domain.Invalid(op, "Invoice is already paid.")
	case "void":
		return nil, domain.Invalid(op, "This invoice is void.")
	}

	inv.Attempted = true
	if err := s.engine.Save(ctx, ObjectInvoice, inv.ID, inv); err != nil {
		return nil, err
	}

	if inv.PaymentIntent == "" {
		return s.markInvoicePaid(ctx, inv, "")
	}
	if _, err := s.payments.ConfirmPaymentIntent(ctx, inv.PaymentIntent, ""); err != nil {
		return inv, err
	}
	return s.RetrieveInvoice(ctx, id)
}

// VoidInvoice voids an unpaid invoice and cancels its pending payment
// intent.
func (s *Service) VoidInvoice(ctx context.Context, id string) (*Invoice, error) {
	const op = "invoice.void"
	inv, err := s.RetrieveInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Paid {
		return nil, domain.Invalid(op, "You cannot void a paid invoice.")
	}
	if inv.Voided {
		return inv, nil
	}
	inv.Voided = true
	if err := s.engine.Save(ctx, ObjectInvoice, inv.ID, inv); err != nil {
		return nil, err
	}
	if inv.PaymentIntent != "" {
		if _, err := s.payments.CancelPaymentIntent(ctx, inv.PaymentIntent); err != nil {
			s.logger.Error("canceling voided invoice's intent failed", "invoice", inv.ID, "error", err)
		}
	}
	s.publishInvoiceEvent(ctx, "invoice.voided", inv)
	return inv, nil
}

// markInvoicePaid closes an invoice after money arrived (or none was
// needed).
func (s *Service) markInvoicePaid(ctx context.Context, inv *Invoice, chargeID string) (*Invoice, error) {
	inv.Paid = true
	inv.Charge = chargeID
	if err := s.engine.Save(ctx, ObjectInvoice, inv.ID, inv); err != nil {
		return nil, err
	}
	s.publishInvoiceEvent(ctx, "invoice.payment_succeeded", inv)
	if inv.Subscription != "" {
		if err := s.activateSubscription(ctx, inv.Subscription); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// PaymentSucceeded implements payment.InvoiceHooks.
func (s *Service) PaymentSucceeded(ctx context.Context, invoiceID, chargeID string) error {
	inv, err := s.RetrieveInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Paid || inv.Voided {
		return nil
	}
	_, err = s.markInvoicePaid(ctx, inv, chargeID)
	return err
}

// PaymentFailed implements payment.InvoiceHooks. The invoice stays
// open; the subscription behind it carries the consequence, which
// depends on whether the instrument settles with a delay.
func (s *Service) PaymentFailed(ctx context.Context, invoiceID string, delayedSettlement bool) error {
	inv, err := s.RetrieveInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Paid || inv.Voided {
		return nil
	}
	s.publishInvoiceEvent(ctx, "invoice.payment_failed", inv)
	if inv.Subscription != "" {
		return s.subscriptionPaymentFailed(ctx, inv.Subscription, delayedSettlement)
	}
	return nil
}

// PaymentCanceled implements payment.InvoiceHooks. Canceling the
// intent that was collecting an invoice voids the invoice.
func (s *Service) PaymentCanceled(ctx context.Context, invoiceID string) error {
	inv, err := s.RetrieveInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Paid || inv.Voided {
		return nil
	}
	inv.Voided = true
	if err := s.engine.Save(ctx, ObjectInvoice, inv.ID, inv); err != nil {
		return err
	}
	s.publishInvoiceEvent(ctx, "invoice.voided", inv)
	return nil
}

// UpcomingInvoice previews the next invoice for a customer without
// persisting anything: pending items plus the renewal line of the
// given or only subscription.
func (s *Service) UpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (map[string]any, error) {
	const op = "invoice.upcoming"
	if customerID == "" {
		return nil, domain.Invalid(op, "Missing required param: customer.")
	}
	if _, err := s.payments.RetrieveCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	items, err := s.pendingInvoiceItems(ctx, customerID)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		Base:          s.engine.NewBase(ObjectInvoice, "in_", "in_upcoming"),
		Customer:      customerID,
		BillingReason: "upcoming",
	}
	for _, item := range items {
		inv.Currency = item.Currency
		inv.Lines = append(inv.Lines, lineFromItem(item))
	}

	sub, err := s.upcomingSubscription(ctx, customerID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		plan, err := s.RetrievePlan(ctx, sub.Plan)
		if err != nil {
			return nil, err
		}
		nextStart := sub.CurrentPeriodEnd
		nextEnd := addInterval(nextStart, plan.Interval, plan.IntervalCount)
		inv.Subscription = sub.ID
		inv.Currency = plan.Currency
		inv.TaxPercent = sub.TaxPercent
		inv.DefaultTaxRates = sub.DefaultTaxRates
		inv.PeriodStart = nextStart
		inv.PeriodEnd = nextEnd
		inv.Lines = append(inv.Lines, subscriptionLine(plan, sub.Quantity, Period{Start: nextStart, End: nextEnd}))
	}
	if len(inv.Lines) == 0 {
		return nil, domain.Invalid(op, fmt.Sprintf("Nothing to invoice for customer %s.", customerID))
	}

	m, err := s.ExportInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	// A preview has no identity.
	delete(m, "id")
	return m, nil
}

func (s *Service) publishInvoiceEvent(ctx context.Context, eventType string, inv *Invoice) {
	snapshot, err := s.ExportInvoice(ctx, inv)
	if err != nil {
		s.logger.Error("invoice export for event failed", "invoice", inv.ID, "error", err)
		return
	}
	s.publish(ctx, eventType, snapshot)
}
