package handler

import (
	"log/slog"
	"net/http"

	"github.com/adrienverge/localstripe/internal/billing"
	"github.com/adrienverge/localstripe/internal/event"
	"github.com/adrienverge/localstripe/internal/payment"
	"github.com/adrienverge/localstripe/internal/resource"
	"github.com/adrienverge/localstripe/internal/router"
)

// Handler carries the services behind the REST surface.
type Handler struct {
	payments *payment.Service
	billing  *billing.Service
	events   *event.Dispatcher
	engine   *resource.Engine
	registry *resource.Registry
	logger   *slog.Logger
}

// New creates the handler.
func New(payments *payment.Service, billingSvc *billing.Service, events *event.Dispatcher,
	eng *resource.Engine, reg *resource.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		payments: payments,
		billing:  billingSvc,
		events:   events,
		engine:   eng,
		registry: reg,
		logger:   logger,
	}
}

// Register wires every API route onto the router.
func (h *Handler) Register(r *router.Router) {
	// Customers and their legacy sources.
	r.Post("/v1/customers", h.CreateCustomer)
	r.Get("/v1/customers", h.ListCustomers)
	r.Get("/v1/customers/{id}", h.GetCustomer)
	r.Post("/v1/customers/{id}", h.UpdateCustomer)
	r.Delete("/v1/customers/{id}", h.DeleteCustomer)
	r.Get("/v1/customers/{id}/sources", h.ListCustomerSources)
	r.Post("/v1/customers/{id}/sources", h.AttachCustomerSource)
	r.Get("/v1/customers/{id}/sources/{source_id}", h.GetCustomerSource)
	r.Delete("/v1/customers/{id}/sources/{source_id}", h.DetachCustomerSource)

	// Instruments.
	r.Post("/v1/tokens", h.CreateToken)
	r.Get("/v1/tokens/{id}", h.GetToken)
	r.Post("/v1/sources", h.CreateSource)
	r.Get("/v1/sources/{id}", h.GetSource)
	r.Post("/v1/payment_methods", h.CreatePaymentMethod)
	r.Get("/v1/payment_methods", h.ListPaymentMethods)
	r.Get("/v1/payment_methods/{id}", h.GetPaymentMethod)
	r.Post("/v1/payment_methods/{id}", h.UpdatePaymentMethod)
	r.Post("/v1/payment_methods/{id}/attach", h.AttachPaymentMethod)
	r.Post("/v1/payment_methods/{id}/detach", h.DetachPaymentMethod)

	// Charges and refunds.
	r.Post("/v1/charges", h.CreateCharge)
	r.Get("/v1/charges", h.ListCharges)
	r.Get("/v1/charges/{id}", h.GetCharge)
	r.Post("/v1/charges/{id}", h.UpdateCharge)
	r.Post("/v1/charges/{id}/capture", h.CaptureCharge)
	r.Post("/v1/refunds", h.CreateRefund)
	r.Get("/v1/refunds", h.ListRefunds)
	r.Get("/v1/refunds/{id}", h.GetRefund)
	r.Get("/v1/balance_transactions", h.ListBalanceTransactions)

	// Payment and setup intents.
	r.Post("/v1/payment_intents", h.CreatePaymentIntent)
	r.Get("/v1/payment_intents", h.ListPaymentIntents)
	r.Get("/v1/payment_intents/{id}", h.GetPaymentIntent)
	r.Post("/v1/payment_intents/{id}/confirm", h.ConfirmPaymentIntent)
	r.Post("/v1/payment_intents/{id}/capture", h.CapturePaymentIntent)
	r.Post("/v1/payment_intents/{id}/cancel", h.CancelPaymentIntent)
	r.Post("/v1/payment_intents/{id}/_authenticate", h.AuthenticatePaymentIntent)
	r.Post("/v1/setup_intents", h.CreateSetupIntent)
	r.Get("/v1/setup_intents", h.ListSetupIntents)
	r.Get("/v1/setup_intents/{id}", h.GetSetupIntent)
	r.Post("/v1/setup_intents/{id}/confirm", h.ConfirmSetupIntent)
	r.Post("/v1/setup_intents/{id}/cancel", h.CancelSetupIntent)
	r.Post("/v1/setup_intents/{id}/_authenticate", h.AuthenticateSetupIntent)

	// Billing catalog.
	r.Post("/v1/products", h.CreateProduct)
	r.Get("/v1/products", h.ListProducts)
	r.Get("/v1/products/{id}", h.GetProduct)
	r.Post("/v1/products/{id}", h.UpdateProduct)
	r.Delete("/v1/products/{id}", h.DeleteProduct)
	r.Post("/v1/plans", h.CreatePlan)
	r.Get("/v1/plans", h.ListPlans)
	r.Get("/v1/plans/{id}", h.GetPlan)
	r.Delete("/v1/plans/{id}", h.DeletePlan)
	r.Post("/v1/tax_rates", h.CreateTaxRate)
	r.Get("/v1/tax_rates", h.ListTaxRates)
	r.Get("/v1/tax_rates/{id}", h.GetTaxRate)
	r.Post("/v1/tax_rates/{id}", h.UpdateTaxRate)

	// Invoicing.
	r.Post("/v1/invoiceitems", h.CreateInvoiceItem)
	r.Get("/v1/invoiceitems", h.ListInvoiceItems)
	r.Get("/v1/invoiceitems/{id}", h.GetInvoiceItem)
	r.Post("/v1/invoiceitems/{id}", h.UpdateInvoiceItem)
	r.Delete("/v1/invoiceitems/{id}", h.DeleteInvoiceItem)
	r.Post("/v1/invoices", h.CreateInvoice)
	r.Get("/v1/invoices", h.ListInvoices)
	r.Get("/v1/invoices/upcoming", h.UpcomingInvoice)
	r.Get("/v1/invoices/{id}", h.GetInvoice)
	r.Get("/v1/invoices/{id}/lines", h.GetInvoiceLines)
	r.Post("/v1/invoices/{id}/finalize", h.FinalizeInvoice)
	r.Post("/v1/invoices/{id}/pay", h.PayInvoice)
	r.Post("/v1/invoices/{id}/void", h.VoidInvoice)

	// Subscriptions.
	r.Post("/v1/subscriptions", h.CreateSubscription)
	r.Get("/v1/subscriptions", h.ListSubscriptions)
	r.Get("/v1/subscriptions/{id}", h.GetSubscription)
	r.Post("/v1/subscriptions/{id}", h.UpdateSubscription)
	r.Delete("/v1/subscriptions/{id}", h.CancelSubscription)

	// Events.
	r.Get("/v1/events", h.ListEvents)
	r.Get("/v1/events/{id}", h.GetEvent)
	r.Delete("/v1/events/{id}", h.DeleteEvent)
}

// RegisterConfig wires the out-of-band test-control routes. These live
// outside /v1 and outside API-key auth: the test harness drives them.
func (h *Handler) RegisterConfig(r *router.Router) {
	r.Post("/_config/webhooks/{id}", h.RegisterWebhook)
	r.Delete("/_config/webhooks/{id}", h.DeleteWebhook)
	r.Delete("/_config/data", h.FlushData)
	r.Get("/healthz", h.Health)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}
