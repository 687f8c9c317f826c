package handler

import (
	"net/http"

	"github.com/adrienverge/localstripe/internal/billing"
)

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var params billing.ProductParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	p, err := h.billing.CreateProduct(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, p.Export())
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.billing.ListProducts(r.Context())
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/products", exportAll(products))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.billing.RetrieveProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, p.Export())
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var params billing.ProductParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	p, err := h.billing.UpdateProduct(r.Context(), r.PathValue("id"), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, p.Export())
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.billing.DeleteProduct(r.Context(), id); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, deletedResponse("product", id))
}

func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var params billing.PlanParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	p, err := h.billing.CreatePlan(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, p.Export())
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.billing.ListPlans(r.Context())
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/plans", exportAll(plans))
}

func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.billing.RetrievePlan(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, p.Export())
}

func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.billing.DeletePlan(r.Context(), id); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, deletedResponse("plan", id))
}

func (h *Handler) CreateTaxRate(w http.ResponseWriter, r *http.Request) {
	var params billing.TaxRateParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	t, err := h.billing.CreateTaxRate(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, t.Export())
}

func (h *Handler) ListTaxRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.billing.ListTaxRates(r.Context())
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/tax_rates", exportAll(rates))
}

func (h *Handler) GetTaxRate(w http.ResponseWriter, r *http.Request) {
	t, err := h.billing.RetrieveTaxRate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, t.Export())
}

func (h *Handler) UpdateTaxRate(w http.ResponseWriter, r *http.Request) {
	var params billing.TaxRateParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	t, err := h.billing.UpdateTaxRate(r.Context(), r.PathValue("id"), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, t.Export())
}

func (h *Handler) CreateInvoiceItem(w http.ResponseWriter, r *http.Request) {
	var params billing.InvoiceItemParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	item, err := h.billing.CreateInvoiceItem(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, item.Export())
}

func (h *Handler) ListInvoiceItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.billing.ListInvoiceItems(r.Context(), r.URL.Query().Get("customer"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/invoiceitems", exportAll(items))
}

func (h *Handler) GetInvoiceItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.billing.RetrieveInvoiceItem(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, item.Export())
}

func (h *Handler) UpdateInvoiceItem(w http.ResponseWriter, r *http.Request) {
	var params billing.InvoiceItemParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	item, err := h.billing.UpdateInvoiceItem(r.Context(), r.PathValue("id"), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, item.Export())
}

func (h *Handler) DeleteInvoiceItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.billing.DeleteInvoiceItem(r.Context(), id); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, deletedResponse("invoiceitem", id))
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var params billing.InvoiceParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	inv, err := h.billing.CreateInvoice(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondInvoice(w, r, inv)
}

func (h *Handler) respondInvoice(w http.ResponseWriter, r *http.Request, inv *billing.Invoice) {
	export, err := h.billing.ExportInvoice(r.Context(), inv)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, export)
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices, err := h.billing.ListInvoices(r.Context(), q.Get("customer"), q.Get("subscription"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	exports := make([]map[string]any, 0, len(invoices))
	for _, inv := range invoices {
		export, err := h.billing.ExportInvoice(r.Context(), inv)
		if err != nil {
			h.ErrorResponse(w, r, err)
			return
		}
		exports = append(exports, export)
	}
	h.respondList(w, r, "/v1/invoices", exports)
}

func (h *Handler) UpcomingInvoice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	export, err := h.billing.UpcomingInvoice(r.Context(), q.Get("customer"), q.Get("subscription"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, export)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.billing.RetrieveInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondInvoice(w, r, inv)
}

// GetInvoiceLines serves the invoice's line items as a standalone list.
func (h *Handler) GetInvoiceLines(w http.ResponseWriter, r *http.Request) {
	inv, err := h.billing.RetrieveInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	export, err := h.billing.ExportInvoice(r.Context(), inv)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	lines, _ := export["lines"].(map[string]any)
	data, _ := lines["data"].([]map[string]any)
	h.respondList(w, r, "/v1/invoices/"+inv.ID+"/lines", data)
}

func (h *Handler) FinalizeInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.billing.FinalizeInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondInvoice(w, r, inv)
}

func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.billing.PayInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondInvoice(w, r, inv)
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.billing.VoidInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondInvoice(w, r, inv)
}

func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var params billing.SubscriptionParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	sub, err := h.billing.CreateSubscription(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondSubscription(w, r, sub)
}

func (h *Handler) respondSubscription(w http.ResponseWriter, r *http.Request, sub *billing.Subscription) {
	export, err := h.billing.ExportSubscription(r.Context(), sub)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, export)
}

func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.billing.ListSubscriptions(r.Context(), r.URL.Query().Get("customer"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	exports := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		export, err := h.billing.ExportSubscription(r.Context(), sub)
		if err != nil {
			h.ErrorResponse(w, r, err)
			return
		}
		exports = append(exports, export)
	}
	h.respondList(w, r, "/v1/subscriptions", exports)
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billing.RetrieveSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondSubscription(w, r, sub)
}

func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var params billing.SubscriptionUpdateParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	sub, err := h.billing.UpdateSubscription(r.Context(), r.PathValue("id"), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondSubscription(w, r, sub)
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	atPeriodEnd := r.URL.Query().Get("at_period_end") == "true"
	sub, err := h.billing.CancelSubscription(r.Context(), r.PathValue("id"), atPeriodEnd)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondSubscription(w, r, sub)
}
