package handler

import (
	"net/http"

	"github.com/adrienverge/localstripe/internal/payment"
)

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var params payment.CustomerParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	c, err := h.payments.CreateCustomer(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondCustomer(w, r, c)
}

func (h *Handler) respondCustomer(w http.ResponseWriter, r *http.Request, c *payment.Customer) {
	export, err := h.payments.ExportCustomer(r.Context(), c)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, export)
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.payments.RetrieveCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondCustomer(w, r, c)
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var params payment.CustomerParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	c, err := h.payments.UpdateCustomer(r.Context(), r.PathValue("id"), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondCustomer(w, r, c)
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.payments.DeleteCustomer(r.Context(), id); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, deletedResponse("customer", id))
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.payments.ListCustomers(r.Context())
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	exports := make([]map[string]any, 0, len(customers))
	for _, c := range customers {
		export, err := h.payments.ExportCustomer(r.Context(), c)
		if err != nil {
			h.ErrorResponse(w, r, err)
			return
		}
		exports = append(exports, export)
	}
	h.respondList(w, r, "/v1/customers", exports)
}

func (h *Handler) ListCustomerSources(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sources, err := h.payments.ListCustomerSources(r.Context(), id)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/customers/"+id+"/sources", sources)
}

func (h *Handler) AttachCustomerSource(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Source string `json:"source"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	attached, err := h.payments.AttachCustomerSource(r.Context(), r.PathValue("id"), params.Source)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, attached.Export())
}

func (h *Handler) GetCustomerSource(w http.ResponseWriter, r *http.Request) {
	attached, err := h.payments.RetrieveCustomerSource(r.Context(), r.PathValue("id"), r.PathValue("source_id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, attached.Export())
}

func (h *Handler) DetachCustomerSource(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source_id")
	if err := h.payments.DetachCustomerSource(r.Context(), r.PathValue("id"), sourceID); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, deletedResponse("card", sourceID))
}

func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Card payment.CardParams `json:"card"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	tok, err := h.payments.CreateToken(r.Context(), params.Card)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, tok.Export())
}

func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.payments.RetrieveToken(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, tok.Export())
}

func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Type      string            `json:"type"`
		Currency  string            `json:"currency"`
		SepaDebit struct {
			IBAN string `json:"iban"`
		} `json:"sepa_debit"`
		Owner    map[string]string `json:"owner"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	src, err := h.payments.CreateSource(r.Context(), payment.SourceParams{
		Type:     params.Type,
		Currency: params.Currency,
		IBAN:     params.SepaDebit.IBAN,
		Owner:    params.Owner,
		Metadata: params.Metadata,
	})
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, src.Export())
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.payments.RetrieveSource(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, src.Export())
}

func (h *Handler) CreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Type      string             `json:"type"`
		Card      payment.CardParams `json:"card"`
		SepaDebit struct {
			IBAN string `json:"iban"`
		} `json:"sepa_debit"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	pm, err := h.payments.CreatePaymentMethod(r.Context(), payment.PaymentMethodParams{
		Type:     params.Type,
		Card:     params.Card,
		IBAN:     params.SepaDebit.IBAN,
		Metadata: params.Metadata,
	})
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, pm.Export())
}

func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pms, err := h.payments.ListPaymentMethods(r.Context(), q.Get("customer"), q.Get("type"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/payment_methods", exportAll(pms))
}

func (h *Handler) GetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	pm, err := h.payments.RetrievePaymentMethod(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, pm.Export())
}

func (h *Handler) UpdatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Card struct {
			ExpMonth *int `json:"exp_month"`
			ExpYear  *int `json:"exp_year"`
		} `json:"card"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	pm, err := h.payments.UpdatePaymentMethod(r.Context(), r.PathValue("id"), payment.PaymentMethodUpdate{
		ExpMonth: params.Card.ExpMonth,
		ExpYear:  params.Card.ExpYear,
		Metadata: params.Metadata,
	})
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, pm.Export())
}

func (h *Handler) AttachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Customer string `json:"customer"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	pm, err := h.payments.AttachPaymentMethod(r.Context(), r.PathValue("id"), params.Customer)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, pm.Export())
}

func (h *Handler) DetachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	pm, err := h.payments.DetachPaymentMethod(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, pm.Export())
}

func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var params payment.ChargeParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	ch, err := h.payments.CreateCharge(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, ch.Export())
}

func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	charges, err := h.payments.ListCharges(r.Context(), r.URL.Query().Get("customer"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/charges", exportAll(charges))
}

func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.payments.RetrieveCharge(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, ch.Export())
}

func (h *Handler) UpdateCharge(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Description *string           `json:"description"`
		Metadata    map[string]string `json:"metadata"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	ch, err := h.payments.UpdateCharge(r.Context(), r.PathValue("id"), params.Description, params.Metadata)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, ch.Export())
}

func (h *Handler) CaptureCharge(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Amount *int64 `json:"amount"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	ch, err := h.payments.CaptureCharge(r.Context(), r.PathValue("id"), params.Amount)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, ch.Export())
}

func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Charge string `json:"charge"`
		Amount *int64 `json:"amount"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	refund, err := h.payments.RefundCharge(r.Context(), params.Charge, params.Amount)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, refund.Export())
}

func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.payments.ListRefunds(r.Context(), r.URL.Query().Get("charge"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/refunds", exportAll(refunds))
}

func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := h.payments.RetrieveRefund(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, refund.Export())
}

func (h *Handler) ListBalanceTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.payments.ListBalanceTransactions(r.Context())
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/balance_transactions", exportAll(txns))
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var params payment.PaymentIntentParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	pi, err := h.payments.CreatePaymentIntent(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondPaymentIntent(w, r, pi)
}

func (h *Handler) respondPaymentIntent(w http.ResponseWriter, r *http.Request, pi *payment.PaymentIntent) {
	export, err := h.payments.ExportPaymentIntent(r.Context(), pi)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, export)
}

func (h *Handler) ListPaymentIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.payments.ListPaymentIntents(r.Context(), r.URL.Query().Get("customer"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	exports := make([]map[string]any, 0, len(intents))
	for _, pi := range intents {
		export, err := h.payments.ExportPaymentIntent(r.Context(), pi)
		if err != nil {
			h.ErrorResponse(w, r, err)
			return
		}
		exports = append(exports, export)
	}
	h.respondList(w, r, "/v1/payment_intents", exports)
}

func (h *Handler) GetPaymentIntent(w http.ResponseWriter, r *http.Request) {
	pi, err := h.payments.RetrievePaymentIntent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondPaymentIntent(w, r, pi)
}

func (h *Handler) ConfirmPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var params struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	pi, err := h.payments.ConfirmPaymentIntent(r.Context(), r.PathValue("id"), params.PaymentMethod)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondPaymentIntent(w, r, pi)
}

func (h *Handler) CapturePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var params struct {
		AmountToCapture *int64 `json:"amount_to_capture"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	pi, err := h.payments.CapturePaymentIntent(r.Context(), r.PathValue("id"), params.AmountToCapture)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondPaymentIntent(w, r, pi)
}

func (h *Handler) CancelPaymentIntent(w http.ResponseWriter, r *http.Request) {
	pi, err := h.payments.CancelPaymentIntent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondPaymentIntent(w, r, pi)
}

// AuthenticatePaymentIntent is the internal endpoint behind the
// simulated 3-D Secure page. success=false abandons the challenge.
func (h *Handler) AuthenticatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Success *bool `json:"success"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	success := params.Success == nil || *params.Success
	pi, err := h.payments.AuthenticatePaymentIntent(r.Context(), r.PathValue("id"), success)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondPaymentIntent(w, r, pi)
}

func (h *Handler) CreateSetupIntent(w http.ResponseWriter, r *http.Request) {
	var params payment.SetupIntentParams
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	si, err := h.payments.CreateSetupIntent(r.Context(), params)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, si.Export())
}

func (h *Handler) ListSetupIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.payments.ListSetupIntents(r.Context(), r.URL.Query().Get("customer"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/setup_intents", exportAll(intents))
}

func (h *Handler) GetSetupIntent(w http.ResponseWriter, r *http.Request) {
	si, err := h.payments.RetrieveSetupIntent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, si.Export())
}

func (h *Handler) ConfirmSetupIntent(w http.ResponseWriter, r *http.Request) {
	var params struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	si, err := h.payments.ConfirmSetupIntent(r.Context(), r.PathValue("id"), params.PaymentMethod)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, si.Export())
}

func (h *Handler) CancelSetupIntent(w http.ResponseWriter, r *http.Request) {
	si, err := h.payments.CancelSetupIntent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, si.Export())
}

func (h *Handler) AuthenticateSetupIntent(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Success *bool `json:"success"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	success := params.Success == nil || *params.Success
	si, err := h.payments.AuthenticateSetupIntent(r.Context(), r.PathValue("id"), success)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.expandAndRespond(w, r, si.Export())
}

// exporter is anything that renders itself as a public object.
type exporter interface{ Export() map[string]any }

func exportAll[T exporter](items []T) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, item.Export())
	}
	return out
}
