package billing

import (
	"context"
	"log/slog"
	"sort"

	"github.com/adrienverge/localstripe/internal/event"
	"github.com/adrienverge/localstripe/internal/payment"
	"github.com/adrienverge/localstripe/internal/resource"
)

// Service owns products, plans, tax rates, invoices and subscriptions.
// It drives the payment layer to collect invoices and implements its
// settlement hooks.
type Service struct {
	engine   *resource.Engine
	payments *payment.Service
	events   *event.Dispatcher
	logger   *slog.Logger
}

// NewService creates the billing service, registers its expandable
// object types and installs itself as the payment layer's invoice
// hooks.
func NewService(payments *payment.Service, events *event.Dispatcher, logger *slog.Logger, reg *resource.Registry) *Service {
	s := &Service{
		engine:   payments.Engine(),
		payments: payments,
		events:   events,
		logger:   logger,
	}
	payments.SetInvoiceHooks(s)

	reg.Register("prod_", func(ctx context.Context, id string) (map[string]any, error) {
		p, err := s.RetrieveProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		return p.Export(), nil
	})
	reg.Register("plan_", func(ctx context.Context, id string) (map[string]any, error) {
		p, err := s.RetrievePlan(ctx, id)
		if err != nil {
			return nil, err
		}
		return p.Export(), nil
	})
	reg.Register("txr_", func(ctx context.Context, id string) (map[string]any, error) {
		t, err := s.RetrieveTaxRate(ctx, id)
		if err != nil {
			return nil, err
		}
		return t.Export(), nil
	})
	reg.Register("ii_", func(ctx context.Context, id string) (map[string]any, error) {
		item, err := s.RetrieveInvoiceItem(ctx, id)
		if err != nil {
			return nil, err
		}
		return item.Export(), nil
	})
	reg.Register("in_", func(ctx context.Context, id string) (map[string]any, error) {
		inv, err := s.RetrieveInvoice(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.ExportInvoice(ctx, inv)
	})
	reg.Register("sub_", func(ctx context.Context, id string) (map[string]any, error) {
		sub, err := s.RetrieveSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.ExportSubscription(ctx, sub)
	})

	return s
}

func (s *Service) publish(ctx context.Context, eventType string, snapshot map[string]any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, eventType, snapshot); err != nil {
		s.logger.Error("event publish failed", "type", eventType, "error", err)
	}
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
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
