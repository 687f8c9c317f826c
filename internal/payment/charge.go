package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// Stored object names for the money-movement side.
const (
	ObjectCharge             = "charge"
	ObjectRefund             = "refund"
	ObjectBalanceTransaction = "balance_transaction"
)

// Charge is one attempt to move money. Card charges resolve
// synchronously against the behavior table; SEPA charges stay pending
// until the simulated bank delay elapses.
type Charge struct {
	resource.Base
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Customer       string `json:"customer"`
	Description    string `json:"description"`
	Instrument     string `json:"instrument"`
	Status         string `json:"status"`
	Captured       bool   `json:"captured"`
	Paid           bool   `json:"paid"`
	Refunded       bool   `json:"refunded"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
	Invoice        string `json:"invoice"`
	PaymentIntent  string `json:"payment_intent"`
	BalanceTxn     string `json:"balance_transaction"`
}

func (c *Charge) Export() map[string]any {
	m := c.ExportCommon()
	m["amount"] = c.Amount
	m["amount_captured"] = c.amountCaptured()
	m["amount_refunded"] = c.AmountRefunded
	m["currency"] = c.Currency
	m["customer"] = orNil(c.Customer)
	m["description"] = orNil(c.Description)
	m["payment_method"] = orNil(c.Instrument)
	m["status"] = c.Status
	m["captured"] = c.Captured
	m["paid"] = c.Paid
	m["refunded"] = c.Refunded
	m["failure_code"] = orNil(c.FailureCode)
	m["failure_message"] = orNil(c.FailureMessage)
	m["invoice"] = orNil(c.Invoice)
	m["payment_intent"] = orNil(c.PaymentIntent)
	m["balance_transaction"] = orNil(c.BalanceTxn)
	return m
}

func (c *Charge) amountCaptured() int64 {
	if c.Captured && c.Status == "succeeded" {
		return c.Amount - c.AmountRefunded
	}
	return 0
}

// Refund is a partial or full reversal of a charge.
type Refund struct {
	resource.Base
	Amount   int64  `json:"amount"`
	Charge   string `json:"charge"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (r *Refund) Export() map[string]any {
	m := r.ExportCommon()
	m["amount"] = r.Amount
	m["charge"] = r.Charge
	m["currency"] = r.Currency
	m["status"] = r.Status
	return m
}

// BalanceTransaction records settled money movement. The double has no
// real balance, so fees are always zero and net equals amount.
type BalanceTransaction struct {
	resource.Base
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Source   string `json:"source"`
	Type     string `json:"type"`
}

func (t *BalanceTransaction) Export() map[string]any {
	m := t.ExportCommon()
	delete(m, "metadata")
	m["amount"] = t.Amount
	m["currency"] = t.Currency
	m["source"] = t.Source
	m["type"] = t.Type
	m["fee"] = 0
	m["net"] = t.Amount
	m["status"] = "available"
	return m
}

// ChargeParams are the accepted fields for a direct charge.
type ChargeParams struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Customer    string            `json:"customer"`
	Source      string            `json:"source"`
	Description string            `json:"description"`
	Capture     *bool             `json:"capture"`
	Metadata    map[string]string `json:"metadata"`
}

// CreateCharge runs one payment attempt. On a decline the failed
// charge is still stored and the returned error carries its id, so the
// caller sees both the 402 and the evidence.
func (s *Service) CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error) {
	const op = "charge.create"
	if params.Amount <= 0 {
		return nil, domain.Invalid(op, "Amount must be a positive integer.")
	}
	if params.Currency == "" {
		return nil, domain.Invalid(op, "Missing required param: currency.")
	}

	instrument := params.Source
	if instrument == "" && params.Customer != "" {
		c, err := s.RetrieveCustomer(ctx, params.Customer)
		if err != nil {
			return nil, err
		}
		instrument = s.defaultInstrument(ctx, c)
	}
	if instrument == "" {
		return nil, domain.Invalid(op, "Cannot charge a customer that has no active card.")
	}

	capture := params.Capture == nil || *params.Capture
	ch := &Charge{
		Base:        s.engine.NewBase(ObjectCharge, "ch_", ""),
		Amount:      params.Amount,
		Currency:    params.Currency,
		Customer:    params.Customer,
		Description: params.Description,
		Instrument:  instrument,
		Captured:    capture,
	}
	ch.Metadata = params.Metadata
	return s.runCharge(ctx, ch)
}

// runCharge stores the charge and resolves it against the instrument's
// behavior. Used both by the direct charge API and by payment intents.
func (s *Service) runCharge(ctx context.Context, ch *Charge) (*Charge, error) {
	const op = "charge.create"

	kind, number, err := s.instrumentKind(ctx, ch.Instrument)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "card":
		behavior := behaviorFor(number)
		code := behavior.chargeDeclineCode
		if behavior.declineAtAttach {
			code = "card_declined"
		}
		if code != "" {
			ch.Status = "failed"
			ch.FailureCode = code
			ch.FailureMessage = "Your card was declined."
			if err := s.engine.Create(ctx, ObjectCharge, ch.ID, ch); err != nil {
				return nil, err
			}
			s.publish(ctx, "charge.failed", ch.Export())
			return ch, domain.Declined(op, code, ch.ID)
		}
		ch.Status = "succeeded"
		ch.Paid = true
		if ch.Captured {
			txn, err := s.recordBalanceTransaction(ctx, ch.Amount, ch.Currency, ch.ID, "charge")
			if err != nil {
				return nil, err
			}
			ch.BalanceTxn = txn.ID
		}
		if err := s.engine.Create(ctx, ObjectCharge, ch.ID, ch); err != nil {
			return nil, err
		}
		s.publish(ctx, "charge.succeeded", ch.Export())
		return ch, nil

	case "sepa_debit":
		ch.Status = "pending"
		if err := s.engine.Create(ctx, ObjectCharge, ch.ID, ch); err != nil {
			return nil, err
		}
		fails := strings.EqualFold(number, testIBANFails)
		chargeID := ch.ID
		s.sched.After(s.settleDelay, func() {
			s.settleCharge(context.Background(), chargeID, fails)
		})
		return ch, nil

	default:
		return nil, domain.Invalid(op, fmt.Sprintf("No such payment instrument: %s", ch.Instrument))
	}
}

// instrumentKind resolves an instrument id to its funding rail and the
// number the behavior table is keyed on (card number or IBAN).
func (s *Service) instrumentKind(ctx context.Context, id string) (kind, number string, err error) {
	switch {
	case strings.HasPrefix(id, "card_"):
		card, err := s.retrieveCard(ctx, id)
		if err != nil {
			return "", "", err
		}
		return "card", card.Number, nil
	case strings.HasPrefix(id, "src_"):
		src, err := s.RetrieveSource(ctx, id)
		if err != nil {
			return "", "", err
		}
		return src.Type, src.IBAN, nil
	case strings.HasPrefix(id, "pm_"):
		pm, err := s.RetrievePaymentMethod(ctx, id)
		if err != nil {
			return "", "", err
		}
		if pm.Type == "card" {
			return "card", pm.Number, nil
		}
		return pm.Type, pm.IBAN, nil
	default:
		return "", "", domain.Invalid("charge.create", fmt.Sprintf("No such payment instrument: %s", id))
	}
}

// settleCharge finishes an asynchronous charge after the simulated bank
// delay. It reloads the charge from the store: the world may have moved
// on since the charge was created.
func (s *Service) settleCharge(ctx context.Context, chargeID string, fails bool) {
	ch, err := s.RetrieveCharge(ctx, chargeID)
	if err != nil {
		s.logger.Error("settlement lookup failed", "charge", chargeID, "error", err)
		return
	}
	if ch.Status != "pending" {
		return
	}

	if fails {
		ch.Status = "failed"
		ch.FailureCode = "insufficient_funds"
		ch.FailureMessage = "The customer's account has insufficient funds to cover this payment."
	} else {
		ch.Status = "succeeded"
		ch.Paid = true
		txn, err := s.recordBalanceTransaction(ctx, ch.Amount, ch.Currency, ch.ID, "charge")
		if err != nil {
			s.logger.Error("settlement balance transaction failed", "charge", chargeID, "error", err)
			return
		}
		ch.BalanceTxn = txn.ID
	}
	if err := s.engine.Save(ctx, ObjectCharge, ch.ID, ch); err != nil {
		s.logger.Error("settlement save failed", "charge", chargeID, "error", err)
		return
	}

	if fails {
		s.publish(ctx, "charge.failed", ch.Export())
	} else {
		s.publish(ctx, "charge.succeeded", ch.Export())
	}
	s.notifyInvoice(ctx, ch, !fails, true)
}

// notifyInvoice forwards a settled invoice-funded charge to the billing
// layer. delayed marks outcomes arriving from the settlement callback
// of an asynchronous instrument.
func (s *Service) notifyInvoice(ctx context.Context, ch *Charge, succeeded, delayed bool) {
	if s.invoices == nil || ch.Invoice == "" {
		return
	}
	var err error
	if succeeded {
		err = s.invoices.PaymentSucceeded(ctx, ch.Invoice, ch.ID)
	} else {
		err = s.invoices.PaymentFailed(ctx, ch.Invoice, delayed)
	}
	if err != nil {
		s.logger.Error("invoice settlement hook failed", "invoice", ch.Invoice, "charge", ch.ID, "error", err)
	}
}

// RetrieveCharge loads a charge by id.
func (s *Service) RetrieveCharge(ctx context.Context, id string) (*Charge, error) {
	var ch Charge
	if err := s.engine.Retrieve(ctx, ObjectCharge, id, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// UpdateCharge patches description and metadata.
func (s *Service) UpdateCharge(ctx context.Context, id string, description *string, metadata map[string]string) (*Charge, error) {
	ch, err := s.RetrieveCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if description != nil {
		ch.Description = *description
	}
	ch.Metadata = resource.MergeMetadata(ch.Metadata, metadata)
	if err := s.engine.Save(ctx, ObjectCharge, ch.ID, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// ListCharges returns charges, optionally filtered by customer, oldest
// first.
func (s *Service) ListCharges(ctx context.Context, customerID string) ([]*Charge, error) {
	docs, err := s.engine.All(ctx, ObjectCharge)
	if err != nil {
		return nil, err
	}
	var out []*Charge
	for _, doc := range docs {
		var ch Charge
		if err := json.Unmarshal(doc, &ch); err != nil {
			return nil, err
		}
		if customerID != "" && ch.Customer != customerID {
			continue
		}
		out = append(out, &ch)
	}
	sortByCreated(out, func(c *Charge) (int64, string) { return c.Created, c.ID })
	return out, nil
}

// CaptureCharge captures a previously authorized charge. Capturing less
// than the authorized amount refunds the remainder automatically. A
// charge captures at most once.
func (s *Service) CaptureCharge(ctx context.Context, id string, amount *int64) (*Charge, error) {
	const op = "charge.capture"
	ch, err := s.RetrieveCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Captured {
		return nil, domain.Invalid(op, "Charge "+id+" has already been captured.")
	}
	if ch.Status != "succeeded" {
		return nil, domain.Invalid(op, "Charge "+id+" is not in a capturable state.")
	}

	captureAmount := ch.Amount
	if amount != nil {
		if *amount <= 0 || *amount > ch.Amount {
			return nil, domain.Invalid(op, "Capture amount must be positive and no greater than the charge amount.")
		}
		captureAmount = *amount
	}

	ch.Captured = true
	txn, err := s.recordBalanceTransaction(ctx, captureAmount, ch.Currency, ch.ID, "charge")
	if err != nil {
		return nil, err
	}
	ch.BalanceTxn = txn.ID

	if captureAmount < ch.Amount {
		if _, err := s.createRefund(ctx, ch, ch.Amount-captureAmount); err != nil {
			return nil, err
		}
	}
	if err := s.engine.Save(ctx, ObjectCharge, ch.ID, ch); err != nil {
		return nil, err
	}
	s.publish(ctx, "charge.captured", ch.Export())
	return ch, nil
}

// RefundCharge refunds part or all of a captured charge. amount nil
// means everything still refundable.
func (s *Service) RefundCharge(ctx context.Context, chargeID string, amount *int64) (*Refund, error) {
	const op = "refund.create"
	ch, err := s.RetrieveCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if ch.Status != "succeeded" || !ch.Paid {
		return nil, domain.Invalid(op, "Charge "+chargeID+" has not succeeded.")
	}

	remaining := ch.Amount - ch.AmountRefunded
	refundAmount := remaining
	if amount != nil {
		refundAmount = *amount
	}
	if refundAmount <= 0 || refundAmount > remaining {
		return nil, domain.Invalid(op, fmt.Sprintf("Refund amount (%d) is greater than unrefunded amount on charge (%d).", refundAmount, remaining))
	}

	r, err := s.createRefund(ctx, ch, refundAmount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Save(ctx, ObjectCharge, ch.ID, ch); err != nil {
		return nil, err
	}
	s.publish(ctx, "charge.refunded", ch.Export())
	return r, nil
}

// createRefund mutates ch in place and stores the refund. Callers save
// the charge.
func (s *Service) createRefund(ctx context.Context, ch *Charge, amount int64) (*Refund, error) {
	r := &Refund{
		Base:     s.engine.NewBase(ObjectRefund, "re_", ""),
		Amount:   amount,
		Charge:   ch.ID,
		Currency: ch.Currency,
		Status:   "succeeded",
	}
	if err := s.engine.Create(ctx, ObjectRefund, r.ID, r); err != nil {
		return nil, err
	}
	if _, err := s.recordBalanceTransaction(ctx, -amount, ch.Currency, r.ID, "refund"); err != nil {
		return nil, err
	}
	ch.AmountRefunded += amount
	ch.Refunded = ch.AmountRefunded == ch.Amount
	return r, nil
}

// RetrieveRefund loads a refund by id.
func (s *Service) RetrieveRefund(ctx context.Context, id string) (*Refund, error) {
	var r Refund
	if err := s.engine.Retrieve(ctx, ObjectRefund, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRefunds returns refunds, optionally filtered by charge, oldest
// first.
func (s *Service) ListRefunds(ctx context.Context, chargeID string) ([]*Refund, error) {
	docs, err := s.engine.All(ctx, ObjectRefund)
	if err != nil {
		return nil, err
	}
	var out []*Refund
	for _, doc := range docs {
		var r Refund
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, err
		}
		if chargeID != "" && r.Charge != chargeID {
			continue
		}
		out = append(out, &r)
	}
	sortByCreated(out, func(r *Refund) (int64, string) { return r.Created, r.ID })
	return out, nil
}

// ListBalanceTransactions returns every balance transaction, oldest
// first.
func (s *Service) ListBalanceTransactions(ctx context.Context) ([]*BalanceTransaction, error) {
	docs, err := s.engine.All(ctx, ObjectBalanceTransaction)
	if err != nil {
		return nil, err
	}
	out := make([]*BalanceTransaction, 0, len(docs))
	for _, doc := range docs {
		var t BalanceTransaction
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	sortByCreated(out, func(t *BalanceTransaction) (int64, string) { return t.Created, t.ID })
	return out, nil
}

func (s *Service) recordBalanceTransaction(ctx context.Context, amount int64, currency, source, txnType string) (*BalanceTransaction, error) {
	t := &BalanceTransaction{
		Base:     s.engine.NewBase(ObjectBalanceTransaction, "txn_", ""),
		Amount:   amount,
		Currency: currency,
		Source:   source,
		Type:     txnType,
	}
	if err := s.engine.Create(ctx, ObjectBalanceTransaction, t.ID, t); err != nil {
		return nil, err
	}
	return t, nil
}
