package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectCustomer is the stored object name for customers.
const ObjectCustomer = "customer"

// InvoiceSettings carries the customer's default payment method for
// invoice-funded intents.
type InvoiceSettings struct {
	DefaultPaymentMethod string `json:"default_payment_method"`
}

// Customer is the account against which instruments are stored and
// invoices are raised.
type Customer struct {
	resource.Base
	Email           string          `json:"email"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Balance         int64           `json:"balance"`
	Currency        string          `json:"currency"`
	DefaultSource   string          `json:"default_source"`
	InvoiceSettings InvoiceSettings `json:"invoice_settings"`
}

func (c *Customer) Export() map[string]any {
	m := c.ExportCommon()
	m["email"] = orNil(c.Email)
	m["name"] = orNil(c.Name)
	m["description"] = orNil(c.Description)
	m["balance"] = c.Balance
	m["currency"] = orNil(c.Currency)
	m["default_source"] = orNil(c.DefaultSource)
	m["delinquent"] = false
	m["invoice_settings"] = map[string]any{
		"default_payment_method": orNil(c.InvoiceSettings.DefaultPaymentMethod),
	}
	m["sources"] = map[string]any{
		"object":      "list",
		"url":         fmt.Sprintf("/v1/customers/%s/sources", c.ID),
		"data":        []any{},
		"total_count": 0,
		"has_more":    false,
	}
	return m
}

// ExportCustomer is Export plus the embedded sources list, which needs
// a store read. Handlers use this one.
func (s *Service) ExportCustomer(ctx context.Context, c *Customer) (map[string]any, error) {
	m := c.Export()
	items, err := s.customerSourceExports(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	l := resource.Paginate(fmt.Sprintf("/v1/customers/%s/sources", c.ID), items, len(items), "")
	if len(items) == 0 {
		l.HasMore = false
	}
	m["sources"] = l.Export()
	return m, nil
}

// CustomerParams are the accepted create/update fields.
type CustomerParams struct {
	Email                *string           `json:"email"`
	Name                 *string           `json:"name"`
	Description          *string           `json:"description"`
	Balance              *int64            `json:"balance"`
	Source               *string           `json:"source"`
	DefaultSource        *string           `json:"default_source"`
	PaymentMethod        *string           `json:"payment_method"`
	DefaultPaymentMethod *string           `json:"invoice_settings_default_payment_method"`
	Metadata             map[string]string `json:"metadata"`
}

// CreateCustomer creates a customer, attaching an initial source or
// payment method when one is supplied. An attach-time decline aborts
// the whole creation.
func (s *Service) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	c := &Customer{Base: s.engine.NewBase(ObjectCustomer, "cus_", "")}
	c.Metadata = params.Metadata
	applyCustomerParams(c, params)
	if err := s.engine.Create(ctx, ObjectCustomer, c.ID, c); err != nil {
		return nil, err
	}

	if params.Source != nil && *params.Source != "" {
		attached, err := s.AttachCustomerSource(ctx, c.ID, *params.Source)
		if err != nil {
			// Roll the half-created customer back so a declined
			// card leaves no trace.
			_ = s.engine.Delete(ctx, ObjectCustomer, c.ID)
			return nil, err
		}
		c.DefaultSource = attached.id()
		if err := s.engine.Save(ctx, ObjectCustomer, c.ID, c); err != nil {
			return nil, err
		}
	}
	if params.PaymentMethod != nil && *params.PaymentMethod != "" {
		if _, err := s.AttachPaymentMethod(ctx, *params.PaymentMethod, c.ID); err != nil {
			_ = s.engine.Delete(ctx, ObjectCustomer, c.ID)
			return nil, err
		}
		c.InvoiceSettings.DefaultPaymentMethod = *params.PaymentMethod
		if err := s.engine.Save(ctx, ObjectCustomer, c.ID, c); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, "customer.created", c.Export())
	return c, nil
}

// RetrieveCustomer loads a customer by id.
func (s *Service) RetrieveCustomer(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	if err := s.engine.Retrieve(ctx, ObjectCustomer, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCustomer patches a customer. Metadata merges key by key.
func (s *Service) UpdateCustomer(ctx context.Context, id string, params CustomerParams) (*Customer, error) {
	const op = "customer.update"
	c, err := s.RetrieveCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	applyCustomerParams(c, params)
	if params.DefaultSource != nil {
		if _, err := s.retrieveCustomerSource(ctx, id, *params.DefaultSource); err != nil {
			return nil, domain.Invalid(op, fmt.Sprintf("No such source: %s", *params.DefaultSource))
		}
		c.DefaultSource = *params.DefaultSource
	}
	if params.DefaultPaymentMethod != nil {
		pm, err := s.RetrievePaymentMethod(ctx, *params.DefaultPaymentMethod)
		if err != nil || pm.Customer != id {
			return nil, domain.Invalid(op, fmt.Sprintf("The payment method %s is not attached to this customer.", *params.DefaultPaymentMethod))
		}
		c.InvoiceSettings.DefaultPaymentMethod = pm.ID
	}
	c.Metadata = resource.MergeMetadata(c.Metadata, params.Metadata)
	if err := s.engine.Save(ctx, ObjectCustomer, c.ID, c); err != nil {
		return nil, err
	}
	s.publish(ctx, "customer.updated", c.Export())
	return c, nil
}

func applyCustomerParams(c *Customer, params CustomerParams) {
	if params.Email != nil {
		c.Email = *params.Email
	}
	if params.Name != nil {
		c.Name = *params.Name
	}
	if params.Description != nil {
		c.Description = *params.Description
	}
	if params.Balance != nil {
		c.Balance = *params.Balance
	}
}

// DeleteCustomer removes a customer. Instruments attached to it are
// left in place; they simply become unreachable through the customer.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	c, err := s.RetrieveCustomer(ctx, id)
	if err != nil {
		return err
	}
	if err := s.engine.Delete(ctx, ObjectCustomer, id); err != nil {
		return err
	}
	s.publish(ctx, "customer.deleted", c.Export())
	return nil
}

// ListCustomers returns every customer, oldest first.
func (s *Service) ListCustomers(ctx context.Context) ([]*Customer, error) {
	docs, err := s.engine.All(ctx, ObjectCustomer)
	if err != nil {
		return nil, err
	}
	out := make([]*Customer, 0, len(docs))
	for _, doc := range docs {
		var c Customer
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	sortByCreated(out, func(c *Customer) (int64, string) { return c.Created, c.ID })
	return out, nil
}

// attachedSource is either a Card or a Source, seen uniformly by the
// customer sources endpoints.
type attachedSource interface {
	id() string
	Export() map[string]any
}

func (c *Card) id() string   { return c.ID }
func (s *Source) id() string { return s.ID }

// AttachCustomerSource attaches a tokenized card or an existing source
// to a customer. Cards that decline at attach are rejected with a
// payment error before anything is stored.
func (s *Service) AttachCustomerSource(ctx context.Context, customerID, sourceID string) (attachedSource, error) {
	const op = "customer.source.attach"
	if _, err := s.RetrieveCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(sourceID, "tok_"):
		params, err := s.consumeToken(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if behaviorFor(params.Number).declineAtAttach {
			return nil, domain.Declined(op, "card_declined", "")
		}
		card := &Card{
			Base:     s.engine.NewBase(ObjectCard, "card_", ""),
			Customer: customerID,
			Number:   params.Number,
			Last4:    last4(params.Number),
			Brand:    cardBrand(params.Number),
			ExpMonth: params.ExpMonth,
			ExpYear:  params.ExpYear,
		}
		if err := s.engine.Create(ctx, ObjectCard, card.ID, card); err != nil {
			return nil, err
		}
		s.publish(ctx, "customer.source.created", card.Export())
		return card, nil

	case strings.HasPrefix(sourceID, "src_"):
		src, err := s.RetrieveSource(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		src.Customer = customerID
		if err := s.engine.Save(ctx, ObjectSource, src.ID, src); err != nil {
			return nil, err
		}
		s.publish(ctx, "customer.source.created", src.Export())
		return src, nil

	default:
		return nil, domain.Invalid(op, fmt.Sprintf("No such token: %s", sourceID))
	}
}

// ListCustomerSources returns the cards and sources attached to a
// customer.
func (s *Service) ListCustomerSources(ctx context.Context, customerID string) ([]map[string]any, error) {
	if _, err := s.RetrieveCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.customerSourceExports(ctx, customerID)
}

func (s *Service) customerSourceExports(ctx context.Context, customerID string) ([]map[string]any, error) {
	var out []map[string]any

	cardDocs, err := s.engine.All(ctx, ObjectCard)
	if err != nil {
		return nil, err
	}
	for _, doc := range cardDocs {
		var card Card
		if err := json.Unmarshal(doc, &card); err != nil {
			return nil, err
		}
		if card.Customer == customerID {
			out = append(out, card.Export())
		}
	}

	srcDocs, err := s.engine.All(ctx, ObjectSource)
	if err != nil {
		return nil, err
	}
	for _, doc := range srcDocs {
		var src Source
		if err := json.Unmarshal(doc, &src); err != nil {
			return nil, err
		}
		if src.Customer == customerID {
			out = append(out, src.Export())
		}
	}
	return out, nil
}

// RetrieveCustomerSource loads one attached card or source, checking
// ownership.
func (s *Service) RetrieveCustomerSource(ctx context.Context, customerID, sourceID string) (attachedSource, error) {
	if _, err := s.RetrieveCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.retrieveCustomerSource(ctx, customerID, sourceID)
}

func (s *Service) retrieveCustomerSource(ctx context.Context, customerID, sourceID string) (attachedSource, error) {
	const op = "customer.source.retrieve"
	if strings.HasPrefix(sourceID, "card_") {
		card, err := s.retrieveCard(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if card.Customer != customerID {
			return nil, domain.NotFound(op, "source", sourceID)
		}
		return card, nil
	}
	src, err := s.RetrieveSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Customer != customerID {
		return nil, domain.NotFound(op, "source", sourceID)
	}
	return src, nil
}

// DetachCustomerSource removes a card, or unbinds a source, from a
// customer. A detached default source is cleared.
func (s *Service) DetachCustomerSource(ctx context.Context, customerID, sourceID string) error {
	c, err := s.RetrieveCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	attached, err := s.retrieveCustomerSource(ctx, customerID, sourceID)
	if err != nil {
		return err
	}

	switch v := attached.(type) {
	case *Card:
		if err := s.engine.Delete(ctx, ObjectCard, v.ID); err != nil {
			return err
		}
	case *Source:
		v.Customer = ""
		if err := s.engine.Save(ctx, ObjectSource, v.ID, v); err != nil {
			return err
		}
	}

	if c.DefaultSource == sourceID {
		c.DefaultSource = ""
		if err := s.engine.Save(ctx, ObjectCustomer, c.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) retrieveCard(ctx context.Context, id string) (*Card, error) {
	var card Card
	if err := s.engine.Retrieve(ctx, ObjectCard, id, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// defaultInstrument resolves the instrument a customer-funded charge
// should use: the explicit one if given, else the customer's default
// payment method, else the default source.
func (s *Service) defaultInstrument(ctx context.Context, c *Customer) string {
	if c.InvoiceSettings.DefaultPaymentMethod != "" {
		return c.InvoiceSettings.DefaultPaymentMethod
	}
	return c.DefaultSource
}

func sortByCreated[T any](items []T, key func(T) (int64, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, ii := key(items[i])
		cj, ij := key(items[j])
		if ci != cj {
			return ci < cj
		}
		return ii < ij
	})
}
