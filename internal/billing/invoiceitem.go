package billing

import (
	"context"
	"encoding/json"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectInvoiceItem is the stored object name for invoice items.
const ObjectInvoiceItem = "invoiceitem"

// Period is the time span an invoice line pays for.
type Period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// InvoiceItem is a pending one-off amount for a customer. It waits
// until the next invoice for that customer sweeps it up.
type InvoiceItem struct {
	resource.Base
	Customer    string   `json:"customer"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	Invoice     string   `json:"invoice"`
	TaxRates    []string `json:"tax_rates"`
	Proration   bool     `json:"proration"`
	Period      Period   `json:"period"`
}

func (i *InvoiceItem) Export() map[string]any {
	m := i.ExportCommon()
	m["customer"] = i.Customer
	m["amount"] = i.Amount
	m["currency"] = i.Currency
	m["description"] = orNil(i.Description)
	m["invoice"] = orNil(i.Invoice)
	m["tax_rates"] = i.TaxRates
	m["proration"] = i.Proration
	m["period"] = map[string]any{"start": i.Period.Start, "end": i.Period.End}
	return m
}

// InvoiceItemParams are the accepted create/update fields.
type InvoiceItemParams struct {
	Customer    string            `json:"customer"`
	Amount      *int64            `json:"amount"`
	Currency    string            `json:"currency"`
	Description *string           `json:"description"`
	TaxRates    []string          `json:"tax_rates"`
	Metadata    map[string]string `json:"metadata"`
}

// CreateInvoiceItem records a pending amount for a customer. Negative
// amounts are credits.
func (s *Service) CreateInvoiceItem(ctx context.Context, params InvoiceItemParams) (*InvoiceItem, error) {
	const op = "invoiceitem.create"
	if params.Customer == "" {
		return nil, domain.Invalid(op, "Missing required param: customer.")
	}
	if params.Amount == nil {
		return nil, domain.Invalid(op, "Missing required param: amount.")
	}
	if params.Currency == "" {
		return nil, domain.Invalid(op, "Missing required param: currency.")
	}
	if _, err := s.payments.RetrieveCustomer(ctx, params.Customer); err != nil {
		return nil, err
	}
	if _, err := s.loadTaxRates(ctx, params.TaxRates); err != nil {
		return nil, err
	}

	now := s.engine.Now().Unix()
	item := &InvoiceItem{
		Base:     s.engine.NewBase(ObjectInvoiceItem, "ii_", ""),
		Customer: params.Customer,
		Amount:   *params.Amount,
		Currency: params.Currency,
		TaxRates: params.TaxRates,
		Period:   Period{Start: now, End: now},
	}
	if params.Description != nil {
		item.Description = *params.Description
	}
	item.Metadata = params.Metadata
	if err := s.engine.Create(ctx, ObjectInvoiceItem, item.ID, item); err != nil {
		return nil, err
	}
	return item, nil
}

// RetrieveInvoiceItem loads an invoice item by id.
func (s *Service) RetrieveInvoiceItem(ctx context.Context, id string) (*InvoiceItem, error) {
	var item InvoiceItem
	if err := s.engine.Retrieve(ctx, ObjectInvoiceItem, id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateInvoiceItem patches a pending invoice item.
func (s *Service) UpdateInvoiceItem(ctx context.Context, id string, params InvoiceItemParams) (*InvoiceItem, error) {
	const op = "invoiceitem.update"
	item, err := s.RetrieveInvoiceItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Invoice != "" {
		return nil, domain.Invalid(op, "The invoice item is already attached to an invoice.")
	}
	if params.Amount != nil {
		item.Amount = *params.Amount
	}
	if params.Description != nil {
		item.Description = *params.Description
	}
	if params.TaxRates != nil {
		if _, err := s.loadTaxRates(ctx, params.TaxRates); err != nil {
			return nil, err
		}
		item.TaxRates = params.TaxRates
	}
	item.Metadata = resource.MergeMetadata(item.Metadata, params.Metadata)
	if err := s.engine.Save(ctx, ObjectInvoiceItem, item.ID, item); err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteInvoiceItem removes a pending invoice item.
func (s *Service) DeleteInvoiceItem(ctx context.Context, id string) error {
	const op = "invoiceitem.delete"
	item, err := s.RetrieveInvoiceItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Invoice != "" {
		return domain.Invalid(op, "The invoice item is already attached to an invoice.")
	}
	return s.engine.Delete(ctx, ObjectInvoiceItem, id)
}

// ListInvoiceItems returns invoice items, optionally filtered by
// customer, oldest first.
func (s *Service) ListInvoiceItems(ctx context.Context, customerID string) ([]*InvoiceItem, error) {
	docs, err := s.engine.All(ctx, ObjectInvoiceItem)
	if err != nil {
		return nil, err
	}
	var out []*InvoiceItem
	for _, doc := range docs {
		var item InvoiceItem
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, err
		}
		if customerID != "" && item.Customer != customerID {
			continue
		}
		out = append(out, &item)
	}
	sortByCreated(out, func(i *InvoiceItem) (int64, string) { return i.Created, i.ID })
	return out, nil
}

// pendingInvoiceItems returns the customer's items not yet swept onto
// an invoice.
func (s *Service) pendingInvoiceItems(ctx context.Context, customerID string) ([]*InvoiceItem, error) {
	items, err := s.ListInvoiceItems(ctx, customerID)
	if err != nil {
		return nil, err
	}
	pending := items[:0]
	for _, item := range items {
		if item.Invoice == "" {
			pending = append(pending, item)
		}
	}
	return pending, nil
}
