package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/adrienverge/localstripe/internal/event"
	"github.com/adrienverge/localstripe/internal/resource"
)

// InvoiceHooks lets the billing layer react when a payment intent it
// created settles or is canceled. The payment layer never imports
// billing; billing installs itself here at wire-up time.
// delayedSettlement reports whether the failure came from an
// asynchronous instrument's settlement callback rather than a
// synchronous decline; the billing consequences differ.
type InvoiceHooks interface {
	PaymentSucceeded(ctx context.Context, invoiceID, chargeID string) error
	PaymentFailed(ctx context.Context, invoiceID string, delayedSettlement bool) error
	PaymentCanceled(ctx context.Context, invoiceID string) error
}

// Service owns customers, instruments, charges and intents.
type Service struct {
	engine      *resource.Engine
	events      *event.Dispatcher
	sched       event.Scheduler
	logger      *slog.Logger
	settleDelay time.Duration
	invoices    InvoiceHooks
}

// NewService creates the payment service and registers its expandable
// object types. settleDelay is the simulated bank delay before an
// asynchronous (SEPA) charge settles.
func NewService(eng *resource.Engine, events *event.Dispatcher, sched event.Scheduler,
	logger *slog.Logger, settleDelay time.Duration, reg *resource.Registry) *Service {

	s := &Service{
		engine:      eng,
		events:      events,
		sched:       sched,
		logger:      logger,
		settleDelay: settleDelay,
	}

	reg.Register("cus_", func(ctx context.Context, id string) (map[string]any, error) {
		c, err := s.RetrieveCustomer(ctx, id)
		if err != nil {
			return nil, err
		}
		return c.Export(), nil
	})
	reg.Register("pm_", func(ctx context.Context, id string) (map[string]any, error) {
		pm, err := s.RetrievePaymentMethod(ctx, id)
		if err != nil {
			return nil, err
		}
		return pm.Export(), nil
	})
	reg.Register("src_", func(ctx context.Context, id string) (map[string]any, error) {
		src, err := s.RetrieveSource(ctx, id)
		if err != nil {
			return nil, err
		}
		return src.Export(), nil
	})
	reg.Register("card_", func(ctx context.Context, id string) (map[string]any, error) {
		card, err := s.retrieveCard(ctx, id)
		if err != nil {
			return nil, err
		}
		return card.Export(), nil
	})
	reg.Register("ch_", func(ctx context.Context, id string) (map[string]any, error) {
		ch, err := s.RetrieveCharge(ctx, id)
		if err != nil {
			return nil, err
		}
		return ch.Export(), nil
	})
	reg.Register("pi_", func(ctx context.Context, id string) (map[string]any, error) {
		pi, err := s.RetrievePaymentIntent(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.ExportPaymentIntent(ctx, pi)
	})
	reg.Register("seti_", func(ctx context.Context, id string) (map[string]any, error) {
		si, err := s.RetrieveSetupIntent(ctx, id)
		if err != nil {
			return nil, err
		}
		return si.Export(), nil
	})

	return s
}

// SetInvoiceHooks installs the billing callbacks. Must be called before
// any invoice-funded payment intent settles.
func (s *Service) SetInvoiceHooks(h InvoiceHooks) { s.invoices = h }

// Engine exposes the resource engine for layers built on top of this
// one.
func (s *Service) Engine() *resource.Engine { return s.engine }

// publish emits an event, logging rather than failing when the event
// log write itself breaks. Events are advisory; the state change that
// triggered them has already committed.
func (s *Service) publish(ctx context.Context, eventType string, snapshot map[string]any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, eventType, snapshot); err != nil {
		s.logger.Error("event publish failed", "type", eventType, "error", err)
	}
}
