package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectPlan is the stored object name for plans.
const ObjectPlan = "plan"

var validIntervals = map[string]bool{"day": true, "week": true, "month": true, "year": true}

// Tier is one band of a tiered plan. UpTo nil means unbounded, the
// "inf" top tier.
type Tier struct {
	UpTo       *int64 `json:"up_to"`
	UnitAmount int64  `json:"unit_amount"`
	FlatAmount int64  `json:"flat_amount"`
}

// Plan prices a product per billing interval, either flat per unit or
// through tiers.
type Plan struct {
	resource.Base
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Interval        string `json:"interval"`
	IntervalCount   int    `json:"interval_count"`
	Product         string `json:"product"`
	Nickname        string `json:"nickname"`
	BillingScheme   string `json:"billing_scheme"`
	Tiers           []Tier `json:"tiers"`
	TiersMode       string `json:"tiers_mode"`
	TrialPeriodDays int    `json:"trial_period_days"`
	Active          bool   `json:"active"`
}

func (p *Plan) Export() map[string]any {
	m := p.ExportCommon()
	m["currency"] = p.Currency
	m["interval"] = p.Interval
	m["interval_count"] = p.IntervalCount
	m["product"] = orNil(p.Product)
	m["nickname"] = orNil(p.Nickname)
	m["billing_scheme"] = p.BillingScheme
	m["active"] = p.Active
	if p.BillingScheme == "tiered" {
		m["amount"] = nil
		m["tiers_mode"] = p.TiersMode
		tiers := make([]map[string]any, 0, len(p.Tiers))
		for _, t := range p.Tiers {
			tier := map[string]any{"unit_amount": t.UnitAmount, "flat_amount": t.FlatAmount}
			if t.UpTo == nil {
				tier["up_to"] = nil
			} else {
				tier["up_to"] = *t.UpTo
			}
			tiers = append(tiers, tier)
		}
		m["tiers"] = tiers
	} else {
		m["amount"] = p.Amount
		m["tiers_mode"] = nil
		m["tiers"] = nil
	}
	if p.TrialPeriodDays > 0 {
		m["trial_period_days"] = p.TrialPeriodDays
	} else {
		m["trial_period_days"] = nil
	}
	return m
}

// PlanParams are the accepted create fields.
type PlanParams struct {
	ID              string            `json:"id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Interval        string            `json:"interval"`
	IntervalCount   int               `json:"interval_count"`
	Product         string            `json:"product"`
	Nickname        string            `json:"nickname"`
	BillingScheme   string            `json:"billing_scheme"`
	Tiers           []Tier            `json:"tiers"`
	TiersMode       string            `json:"tiers_mode"`
	TrialPeriodDays int               `json:"trial_period_days"`
	Metadata        map[string]string `json:"metadata"`
}

// CreatePlan creates a plan. Tiered plans must carry tiers and a tiers
// mode; per-unit plans must not.
func (s *Service) CreatePlan(ctx context.Context, params PlanParams) (*Plan, error) {
	const op = "plan.create"
	if params.Currency == "" {
		return nil, domain.Invalid(op, "Missing required param: currency.")
	}
	if !validIntervals[params.Interval] {
		return nil, domain.Invalid(op, fmt.Sprintf("Invalid interval: must be one of day, week, month or year, not %q.", params.Interval))
	}
	scheme := params.BillingScheme
	if scheme == "" {
		scheme = "per_unit"
	}
	switch scheme {
	case "per_unit":
		if params.Amount < 0 {
			return nil, domain.Invalid(op, "Amount must be a non-negative integer.")
		}
	case "tiered":
		if len(params.Tiers) == 0 {
			return nil, domain.Invalid(op, "Missing required param: tiers.")
		}
		if params.TiersMode != "volume" && params.TiersMode != "graduated" {
			return nil, domain.Invalid(op, fmt.Sprintf("Invalid tiers_mode: must be volume or graduated, not %q.", params.TiersMode))
		}
		if params.Tiers[len(params.Tiers)-1].UpTo != nil {
			return nil, domain.Invalid(op, "The last tier must have up_to set to \"inf\".")
		}
		for i := 1; i < len(params.Tiers); i++ {
			prev := params.Tiers[i-1].UpTo
			if prev == nil {
				return nil, domain.Invalid(op, "Only the last tier can have up_to set to \"inf\".")
			}
			if params.Tiers[i].UpTo != nil && *params.Tiers[i].UpTo <= *prev {
				return nil, domain.Invalid(op, "Tiers must have strictly increasing up_to values.")
			}
		}
	default:
		return nil, domain.Invalid(op, fmt.Sprintf("Invalid billing_scheme: %q.", params.BillingScheme))
	}

	if params.Product != "" {
		if _, err := s.RetrieveProduct(ctx, params.Product); err != nil {
			return nil, err
		}
	}

	p := &Plan{
		Base:            s.engine.NewBase(ObjectPlan, "plan_", params.ID),
		Amount:          params.Amount,
		Currency:        params.Currency,
		Interval:        params.Interval,
		IntervalCount:   max(params.IntervalCount, 1),
		Product:         params.Product,
		Nickname:        params.Nickname,
		BillingScheme:   scheme,
		Tiers:           params.Tiers,
		TiersMode:       params.TiersMode,
		TrialPeriodDays: params.TrialPeriodDays,
		Active:          true,
	}
	p.Metadata = params.Metadata
	if err := s.engine.Create(ctx, ObjectPlan, p.ID, p); err != nil {
		return nil, err
	}
	s.publish(ctx, "plan.created", p.Export())
	return p, nil
}

// RetrievePlan loads a plan by id.
func (s *Service) RetrievePlan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	if err := s.engine.Retrieve(ctx, ObjectPlan, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePlan removes a plan.
func (s *Service) DeletePlan(ctx context.Context, id string) error {
	return s.engine.Delete(ctx, ObjectPlan, id)
}

// ListPlans returns every plan, oldest first.
func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	docs, err := s.engine.All(ctx, ObjectPlan)
	if err != nil {
		return nil, err
	}
	out := make([]*Plan, 0, len(docs))
	for _, doc := range docs {
		var p Plan
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	sortByCreated(out, func(p *Plan) (int64, string) { return p.Created, p.ID })
	return out, nil
}

// AmountFor prices quantity units on this plan.
//
// Volume mode bills every unit at the single tier the quantity lands
// in; graduated mode fills tiers bottom up, each at its own rate. Flat
// amounts count once per tier used.
func (p *Plan) AmountFor(quantity int64) int64 {
	if p.BillingScheme != "tiered" {
		return p.Amount * quantity
	}

	switch p.TiersMode {
	case "volume":
		for _, t := range p.Tiers {
			if t.UpTo == nil || quantity <= *t.UpTo {
				return t.FlatAmount + t.UnitAmount*quantity
			}
		}
		return 0

	default: // graduated
		var total int64
		var floor int64
		remaining := quantity
		for _, t := range p.Tiers {
			if remaining <= 0 {
				break
			}
			var span int64
			if t.UpTo == nil {
				span = remaining
			} else {
				span = min(remaining, *t.UpTo-floor)
				floor = *t.UpTo
			}
			if span <= 0 {
				continue
			}
			total += t.FlatAmount + t.UnitAmount*span
			remaining -= span
		}
		return total
	}
}
