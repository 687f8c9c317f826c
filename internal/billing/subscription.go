package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectSubscription is the stored object name for subscriptions.
const ObjectSubscription = "subscription"

// Subscription bills one plan to one customer per period. Exactly one
// item per subscription is supported.
type Subscription struct {
	resource.Base
	Customer           string   `json:"customer"`
	Plan               string   `json:"plan"`
	Quantity           int64    `json:"quantity"`
	ItemID             string   `json:"item_id"`
	Status             string   `json:"status"`
	CurrentPeriodStart int64    `json:"current_period_start"`
	CurrentPeriodEnd   int64    `json:"current_period_end"`
	TrialStart         int64    `json:"trial_start"`
	TrialEnd           int64    `json:"trial_end"`
	CancelAtPeriodEnd  bool     `json:"cancel_at_period_end"`
	CanceledAt         int64    `json:"canceled_at"`
	LatestInvoice      string   `json:"latest_invoice"`
	TaxPercent         *float64 `json:"tax_percent"`
	DefaultTaxRates    []string `json:"default_tax_rates"`
}

// ExportSubscription renders the subscription with its plan embedded.
func (s *Service) ExportSubscription(ctx context.Context, sub *Subscription) (map[string]any, error) {
	plan, err := s.RetrievePlan(ctx, sub.Plan)
	if err != nil {
		return nil, err
	}
	item := map[string]any{
		"id":       sub.ItemID,
		"object":   "subscription_item",
		"plan":     plan.Export(),
		"quantity": sub.Quantity,
	}

	m := sub.ExportCommon()
	m["customer"] = sub.Customer
	m["status"] = sub.Status
	m["plan"] = plan.Export()
	m["quantity"] = sub.Quantity
	m["current_period_start"] = sub.CurrentPeriodStart
	m["current_period_end"] = sub.CurrentPeriodEnd
	m["cancel_at_period_end"] = sub.CancelAtPeriodEnd
	m["latest_invoice"] = orNil(sub.LatestInvoice)
	m["default_tax_rates"] = sub.DefaultTaxRates
	m["items"] = map[string]any{
		"object":      "list",
		"url":         fmt.Sprintf("/v1/subscription_items?subscription=%s", sub.ID),
		"data":        []any{item},
		"total_count": 1,
		"has_more":    false,
	}
	if sub.TrialStart != 0 {
		m["trial_start"] = sub.TrialStart
		m["trial_end"] = sub.TrialEnd
	} else {
		m["trial_start"] = nil
		m["trial_end"] = nil
	}
	if sub.CanceledAt != 0 {
		m["canceled_at"] = sub.CanceledAt
	} else {
		m["canceled_at"] = nil
	}
	if sub.TaxPercent != nil {
		m["tax_percent"] = *sub.TaxPercent
	} else {
		m["tax_percent"] = nil
	}
	return m, nil
}

// SubscriptionItemParams is one requested plan/quantity pair.
type SubscriptionItemParams struct {
	Plan     string `json:"plan"`
	Quantity *int64 `json:"quantity"`
}

// SubscriptionParams are the accepted create fields.
type SubscriptionParams struct {
	Customer        string                   `json:"customer"`
	Items           []SubscriptionItemParams `json:"items"`
	TrialPeriodDays *int                     `json:"trial_period_days"`
	TaxPercent      *float64                 `json:"tax_percent"`
	DefaultTaxRates []string                 `json:"default_tax_rates"`
	Metadata        map[string]string        `json:"metadata"`
}

// CreateSubscription starts billing a plan to a customer. Without a
// trial the first invoice is raised and collected immediately; the
// subscription only reaches active once that invoice is paid. A card
// decline leaves the subscription stored as incomplete and surfaces the
// payment error.
func (s *Service) CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error) {
	const op = "subscription.create"
	if params.Customer == "" {
		return nil, domain.Invalid(op, "Missing required param: customer.")
	}
	if len(params.Items) != 1 {
		return nil, domain.NotImplemented(op, "subscriptions with more than one item")
	}
	if _, err := s.payments.RetrieveCustomer(ctx, params.Customer); err != nil {
		return nil, err
	}
	plan, err := s.RetrievePlan(ctx, params.Items[0].Plan)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadTaxRates(ctx, params.DefaultTaxRates); err != nil {
		return nil, err
	}
	quantity := int64(1)
	if params.Items[0].Quantity != nil {
		if *params.Items[0].Quantity <= 0 {
			return nil, domain.Invalid(op, "Quantity must be a positive integer.")
		}
		quantity = *params.Items[0].Quantity
	}

	now := s.engine.Now().Unix()
	sub := &Subscription{
		Base:               s.engine.NewBase(ObjectSubscription, "sub_", ""),
		Customer:           params.Customer,
		Plan:               plan.ID,
		Quantity:           quantity,
		ItemID:             "si_" + resource.RandomID(14),
		Status:             "incomplete",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   addInterval(now, plan.Interval, plan.IntervalCount),
		TaxPercent:         params.TaxPercent,
		DefaultTaxRates:    params.DefaultTaxRates,
	}
	sub.Metadata = params.Metadata

	trialDays := plan.TrialPeriodDays
	if params.TrialPeriodDays != nil {
		trialDays = *params.TrialPeriodDays
	}
	if trialDays > 0 {
		sub.Status = "trialing"
		sub.TrialStart = now
		sub.TrialEnd = now + int64(trialDays)*86400
		sub.CurrentPeriodEnd = sub.TrialEnd
		if err := s.engine.Create(ctx, ObjectSubscription, sub.ID, sub); err != nil {
			return nil, err
		}
		s.publishSubscriptionEvent(ctx, "customer.subscription.created", sub)
		return sub, nil
	}

	if err := s.engine.Create(ctx, ObjectSubscription, sub.ID, sub); err != nil {
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, "customer.subscription.created", sub)

	payErr := s.collectSubscriptionInvoice(ctx, sub, plan, "subscription_create")
	sub, err = s.RetrieveSubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return sub, payErr
}

// collectSubscriptionInvoice raises the period invoice and tries to
// collect it. The returned error is the payment outcome; the invoice
// and subscription state are already saved either way.
func (s *Service) collectSubscriptionInvoice(ctx context.Context, sub *Subscription, plan *Plan, reason string) error {
	items, err := s.pendingInvoiceItems(ctx, sub.Customer)
	if err != nil {
		return err
	}

	inv := &Invoice{
		Base:            s.engine.NewBase(ObjectInvoice, "in_", ""),
		Customer:        sub.Customer,
		Subscription:    sub.ID,
		Currency:        plan.Currency,
		TaxPercent:      sub.TaxPercent,
		DefaultTaxRates: sub.DefaultTaxRates,
		BillingReason:   reason,
		PeriodStart:     sub.CurrentPeriodStart,
		PeriodEnd:       sub.CurrentPeriodEnd,
	}
	for _, item := range items {
		inv.Lines = append(inv.Lines, lineFromItem(item))
	}
	inv.Lines = append(inv.Lines, subscriptionLine(plan, sub.Quantity,
		Period{Start: sub.CurrentPeriodStart, End: sub.CurrentPeriodEnd}))

	if err := s.engine.Create(ctx, ObjectInvoice, inv.ID, inv); err != nil {
		return err
	}
	for _, item := range items {
		item.Invoice = inv.ID
		if err := s.engine.Save(ctx, ObjectInvoiceItem, item.ID, item); err != nil {
			return err
		}
	}
	s.publishInvoiceEvent(ctx, "invoice.created", inv)

	sub.LatestInvoice = inv.ID
	if err := s.engine.Save(ctx, ObjectSubscription, sub.ID, sub); err != nil {
		return err
	}

	_, payErr := s.PayInvoice(ctx, inv.ID)
	return payErr
}

func subscriptionLine(plan *Plan, quantity int64, period Period) Line {
	name := plan.Nickname
	if name == "" {
		name = plan.ID
	}
	return Line{
		ID:          "il_" + resource.RandomID(14),
		Type:        "subscription",
		Amount:      plan.AmountFor(quantity),
		Currency:    plan.Currency,
		Description: fmt.Sprintf("%d × %s", quantity, name),
		Quantity:    quantity,
		Plan:        plan.ID,
		Period:      period,
	}
}

// RetrieveSubscription loads a subscription by id.
func (s *Service) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	if err := s.engine.Retrieve(ctx, ObjectSubscription, id, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns subscriptions, optionally filtered by
// customer, oldest first.
func (s *Service) ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	docs, err := s.engine.All(ctx, ObjectSubscription)
	if err != nil {
		return nil, err
	}
	var out []*Subscription
	for _, doc := range docs {
		var sub Subscription
		if err := json.Unmarshal(doc, &sub); err != nil {
			return nil, err
		}
		if customerID != "" && sub.Customer != customerID {
			continue
		}
		out = append(out, &sub)
	}
	sortByCreated(out, func(sub *Subscription) (int64, string) { return sub.Created, sub.ID })
	return out, nil
}

// SubscriptionUpdateParams are the accepted update fields.
type SubscriptionUpdateParams struct {
	Items             []SubscriptionItemParams `json:"items"`
	CancelAtPeriodEnd *bool                    `json:"cancel_at_period_end"`
	TaxPercent        *float64                 `json:"tax_percent"`
	DefaultTaxRates   []string                 `json:"default_tax_rates"`
	Metadata          map[string]string        `json:"metadata"`
}

// UpdateSubscription patches a subscription. A plan or quantity change
// mid-period books proration items for the next invoice: a credit for
// the unused span of the old price and a charge for the same span of
// the new one.
func (s *Service) UpdateSubscription(ctx context.Context, id string, params SubscriptionUpdateParams) (*Subscription, error) {
	const op = "subscription.update"
	sub, err := s.RetrieveSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == "canceled" {
		return nil, domain.Invalid(op, "This subscription is canceled and cannot be updated.")
	}
	if len(params.Items) > 1 {
		return nil, domain.NotImplemented(op, "subscriptions with more than one item")
	}

	if len(params.Items) == 1 {
		newPlan, err := s.RetrievePlan(ctx, params.Items[0].Plan)
		if err != nil {
			return nil, err
		}
		newQuantity := sub.Quantity
		if params.Items[0].Quantity != nil {
			newQuantity = *params.Items[0].Quantity
		}
		if newPlan.ID != sub.Plan || newQuantity != sub.Quantity {
			if err := s.bookProration(ctx, sub, newPlan, newQuantity); err != nil {
				return nil, err
			}
			sub.Plan = newPlan.ID
			sub.Quantity = newQuantity
		}
	}
	if params.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
	}
	if params.TaxPercent != nil {
		sub.TaxPercent = params.TaxPercent
	}
	if params.DefaultTaxRates != nil {
		if _, err := s.loadTaxRates(ctx, params.DefaultTaxRates); err != nil {
			return nil, err
		}
		sub.DefaultTaxRates = params.DefaultTaxRates
	}
	sub.Metadata = resource.MergeMetadata(sub.Metadata, params.Metadata)
	if err := s.engine.Save(ctx, ObjectSubscription, sub.ID, sub); err != nil {
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, "customer.subscription.updated", sub)
	return sub, nil
}

// bookProration creates the credit and charge items for a mid-period
// plan change, both scaled by the unused fraction of the current
// period.
func (s *Service) bookProration(ctx context.Context, sub *Subscription, newPlan *Plan, newQuantity int64) error {
	oldPlan, err := s.RetrievePlan(ctx, sub.Plan)
	if err != nil {
		return err
	}

	now := s.engine.Now().Unix()
	span := sub.CurrentPeriodEnd - sub.CurrentPeriodStart
	if span <= 0 {
		return nil
	}
	unused := float64(sub.CurrentPeriodEnd-now) / float64(span)
	unused = math.Max(0, math.Min(1, unused))

	credit := -int64(math.Floor(float64(oldPlan.AmountFor(sub.Quantity)) * unused))
	charge := int64(math.Floor(float64(newPlan.AmountFor(newQuantity)) * unused))
	period := Period{Start: now, End: sub.CurrentPeriodEnd}

	for _, p := range []struct {
		amount      int64
		currency    string
		description string
	}{
		{credit, oldPlan.Currency, "Unused time on " + planName(oldPlan)},
		{charge, newPlan.Currency, "Remaining time on " + planName(newPlan)},
	} {
		if p.amount == 0 {
			continue
		}
		item := &InvoiceItem{
			Base:        s.engine.NewBase(ObjectInvoiceItem, "ii_", ""),
			Customer:    sub.Customer,
			Amount:      p.amount,
			Currency:    p.currency,
			Description: p.description,
			Proration:   true,
			Period:      period,
		}
		if err := s.engine.Create(ctx, ObjectInvoiceItem, item.ID, item); err != nil {
			return err
		}
	}
	return nil
}

func planName(p *Plan) string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.ID
}

// CancelSubscription cancels a subscription, either immediately or at
// the period boundary.
func (s *Service) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*Subscription, error) {
	sub, err := s.RetrieveSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == "canceled" {
		return sub, nil
	}
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
		if err := s.engine.Save(ctx, ObjectSubscription, sub.ID, sub); err != nil {
			return nil, err
		}
		s.publishSubscriptionEvent(ctx, "customer.subscription.updated", sub)
		return sub, nil
	}
	sub.Status = "canceled"
	sub.CanceledAt = s.engine.Now().Unix()
	if err := s.engine.Save(ctx, ObjectSubscription, sub.ID, sub); err != nil {
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, "customer.subscription.deleted", sub)
	return sub, nil
}

// activateSubscription moves a subscription to active once its invoice
// is paid.
func (s *Service) activateSubscription(ctx context.Context, id string) error {
	sub, err := s.RetrieveSubscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status == "canceled" || sub.Status == "active" {
		return nil
	}
	sub.Status = "active"
	if err := s.engine.Save(ctx, ObjectSubscription, sub.ID, sub); err != nil {
		return err
	}
	s.publishSubscriptionEvent(ctx, "customer.subscription.updated", sub)
	return nil
}

// subscriptionPaymentFailed marks the billing consequence of a failed
// collection. A failed delayed-settlement debit cancels the
// subscription outright, whatever its status. For synchronous
// declines, a first-invoice failure keeps the subscription incomplete
// and a renewal failure makes it past due.
func (s *Service) subscriptionPaymentFailed(ctx context.Context, id string, delayedSettlement bool) error {
	if delayedSettlement {
		_, err := s.CancelSubscription(ctx, id, false)
		return err
	}
	sub, err := s.RetrieveSubscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status == "canceled" || sub.Status == "incomplete" {
		return nil
	}
	sub.Status = "past_due"
	if err := s.engine.Save(ctx, ObjectSubscription, sub.ID, sub); err != nil {
		return err
	}
	s.publishSubscriptionEvent(ctx, "customer.subscription.updated", sub)
	return nil
}

// upcomingSubscription resolves which subscription an upcoming-invoice
// preview should renew: the explicit one, else the customer's only
// billable one, else none.
func (s *Service) upcomingSubscription(ctx context.Context, customerID, subscriptionID string) (*Subscription, error) {
	if subscriptionID != "" {
		sub, err := s.RetrieveSubscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.Customer != customerID {
			return nil, domain.NotFound("invoice.upcoming", "subscription", subscriptionID)
		}
		return sub, nil
	}
	subs, err := s.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Status == "active" || sub.Status == "trialing" || sub.Status == "past_due" {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *Service) publishSubscriptionEvent(ctx context.Context, eventType string, sub *Subscription) {
	snapshot, err := s.ExportSubscription(ctx, sub)
	if err != nil {
		s.logger.Error("subscription export for event failed", "subscription", sub.ID, "error", err)
		return
	}
	s.publish(ctx, eventType, snapshot)
}

// addInterval advances a unix timestamp by count billing intervals.
func addInterval(unix int64, interval string, count int) int64 {
	t := time.Unix(unix, 0).UTC()
	switch interval {
	case "day":
		t = t.AddDate(0, 0, count)
	case "week":
		t = t.AddDate(0, 0, 7*count)
	case "month":
		t = t.AddDate(0, count, 0)
	case "year":
		t = t.AddDate(count, 0, 0)
	}
	return t.Unix()
}
