package payment_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/event"
	"github.com/adrienverge/localstripe/internal/payment"
	"github.com/adrienverge/localstripe/internal/resource"
	"github.com/adrienverge/localstripe/internal/store"
)

func newService(t *testing.T) (*payment.Service, *event.ManualScheduler) {
	t.Helper()
	eng := resource.NewEngine(store.NewMemory())
	sched := event.NewManualScheduler()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := event.NewDispatcher(eng, logger, sched, time.Second)
	svc := payment.NewService(eng, dispatcher, sched, logger, time.Second, resource.NewRegistry())
	return svc, sched
}

func str(s string) *string { return &s }
func i64(n int64) *int64   { return &n }
func boolp(b bool) *bool   { return &b }

func newCustomer(t *testing.T, svc *payment.Service) *payment.Customer {
	t.Helper()
	c, err := svc.CreateCustomer(context.Background(), payment.CustomerParams{Email: str("jane@example.com")})
	require.NoError(t, err)
	return c
}

func attachCard(t *testing.T, svc *payment.Service, customerID, number string) *payment.PaymentMethod {
	t.Helper()
	ctx := context.Background()
	pm, err := svc.CreatePaymentMethod(ctx, payment.PaymentMethodParams{
		Type: "card",
		Card: payment.CardParams{Number: number, ExpMonth: 12, ExpYear: 2030, CVC: "123"},
	})
	require.NoError(t, err)
	pm, err = svc.AttachPaymentMethod(ctx, pm.ID, customerID)
	require.NoError(t, err)
	return pm
}

func TestCustomer_CreateWithDecliningSourceRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	tok, err := svc.CreateToken(ctx, payment.CardParams{Number: "4000000000000002", ExpMonth: 1, ExpYear: 2031, CVC: "123"})
	require.NoError(t, err, "tokenization never consults the decline table")

	_, err = svc.CreateCustomer(ctx, payment.CustomerParams{Source: &tok.ID})
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
	code, _ := domain.ErrorDetails(err)
	assert.Equal(t, "card_declined", code)

	customers, err := svc.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers, "a declined attach leaves no half-created customer")
}

func TestCustomer_UpdateMergesMetadata(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)

	_, err := svc.UpdateCustomer(ctx, c.ID, payment.CustomerParams{Metadata: map[string]string{"a": "1", "b": "2"}})
	require.NoError(t, err)
	got, err := svc.UpdateCustomer(ctx, c.ID, payment.CustomerParams{Metadata: map[string]string{"b": "3"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, got.Metadata)
}

func TestToken_SingleUse(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)

	tok, err := svc.CreateToken(ctx, payment.CardParams{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "123"})
	require.NoError(t, err)

	_, err = svc.AttachCustomerSource(ctx, c.ID, tok.ID)
	require.NoError(t, err)
	_, err = svc.AttachCustomerSource(ctx, c.ID, tok.ID)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err), "a token attaches exactly once")
}

func TestToken_LuhnRejectedAtCreation(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreateToken(context.Background(), payment.CardParams{Number: "4242424242424241", ExpMonth: 12, ExpYear: 2030, CVC: "123"})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Contains(t, domain.ErrorMessage(err), "card number is incorrect")
}

func TestAttachPaymentMethod_DeclineAtAttach(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)

	pm, err := svc.CreatePaymentMethod(ctx, payment.PaymentMethodParams{
		Type: "card",
		Card: payment.CardParams{Number: "4000000000000002", ExpMonth: 12, ExpYear: 2030, CVC: "123"},
	})
	require.NoError(t, err)

	_, err = svc.AttachPaymentMethod(ctx, pm.ID, c.ID)
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))

	pms, err := svc.ListPaymentMethods(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Empty(t, pms, "declined attach does not bind the method")
}

func TestAttachPaymentMethod_ChargeTimeDeclinerAttachesFine(t *testing.T) {
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	attachCard(t, svc, c.ID, "4000000000000341")
}

func TestCharge_DeclineStoresFailedCharge(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4000000000000341")

	_, err := svc.CreateCharge(ctx, payment.ChargeParams{
		Amount: 1000, Currency: "usd", Customer: c.ID, Source: pm.ID,
	})
	require.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
	code, chargeID := domain.ErrorDetails(err)
	assert.Equal(t, "card_declined", code)
	require.NotEmpty(t, chargeID, "the decline error names the failed charge")

	ch, err := svc.RetrieveCharge(ctx, chargeID)
	require.NoError(t, err)
	assert.Equal(t, "failed", ch.Status)
	assert.Equal(t, "card_declined", ch.FailureCode)
	assert.False(t, ch.Paid)
}

func TestCharge_DeclineCodesPerNumber(t *testing.T) {
	tests := []struct {
		number string
		code   string
	}{
		{"4000000000000127", "incorrect_cvc"},
		{"4000000000000069", "expired_card"},
		{"4000000000000119", "processing_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newService(t)
			c := newCustomer(t, svc)
			pm := attachCard(t, svc, c.ID, tt.number)

			_, err := svc.CreateCharge(ctx, payment.ChargeParams{Amount: 500, Currency: "usd", Customer: c.ID, Source: pm.ID})
			code, _ := domain.ErrorDetails(err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestCharge_IsDeterministicPerNumber(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4000000000000341")

	for i := 0; i < 5; i++ {
		_, err := svc.CreateCharge(ctx, payment.ChargeParams{Amount: 500, Currency: "usd", Customer: c.ID, Source: pm.ID})
		code, _ := domain.ErrorDetails(err)
		assert.Equal(t, "card_declined", code, "same number, same outcome, every time")
	}
}

func TestCharge_SuccessRecordsBalanceTransaction(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	ch, err := svc.CreateCharge(ctx, payment.ChargeParams{Amount: 1000, Currency: "usd", Customer: c.ID, Source: pm.ID})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", ch.Status)
	assert.True(t, ch.Captured)
	assert.NotEmpty(t, ch.BalanceTxn)

	txns, err := svc.ListBalanceTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(1000), txns[0].Amount)
	assert.Equal(t, ch.ID, txns[0].Source)
}

func TestCharge_PartialCaptureRefundsRemainder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	ch, err := svc.CreateCharge(ctx, payment.ChargeParams{
		Amount: 1000, Currency: "usd", Customer: c.ID, Source: pm.ID, Capture: boolp(false),
	})
	require.NoError(t, err)
	assert.False(t, ch.Captured, "authorized but not captured")
	assert.Empty(t, ch.BalanceTxn)

	ch, err = svc.CaptureCharge(ctx, ch.ID, i64(600))
	require.NoError(t, err)
	assert.True(t, ch.Captured)
	assert.Equal(t, int64(400), ch.AmountRefunded, "uncaptured remainder is refunded")

	_, err = svc.CaptureCharge(ctx, ch.ID, nil)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err), "a charge captures at most once")
}

func TestRefund_PartialThenOverRefundRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	ch, err := svc.CreateCharge(ctx, payment.ChargeParams{Amount: 1000, Currency: "usd", Customer: c.ID, Source: pm.ID})
	require.NoError(t, err)

	r, err := svc.RefundCharge(ctx, ch.ID, i64(300))
	require.NoError(t, err)
	assert.Equal(t, int64(300), r.Amount)

	ch, err = svc.RetrieveCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, ch.Refunded)

	_, err = svc.RefundCharge(ctx, ch.ID, i64(800))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = svc.RefundCharge(ctx, ch.ID, nil)
	require.NoError(t, err, "nil amount refunds the remainder")
	ch, err = svc.RetrieveCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.True(t, ch.Refunded)
	assert.Equal(t, ch.Amount, ch.AmountRefunded)
}

func TestPaymentIntent_ConfirmSucceeds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 2000, Currency: "eur", Customer: c.ID, PaymentMethod: pm.ID, Confirm: true,
	})
	require.NoError(t, err)

	status, err := svc.PaymentIntentStatus(ctx, pi)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", status)
	assert.Len(t, pi.Charges, 1)
	assert.Contains(t, pi.ClientSecret, pi.ID+"_secret_")
}

func TestPaymentIntent_StatusProgression(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{Amount: 2000, Currency: "eur", Customer: c.ID})
	require.NoError(t, err)
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "requires_payment_method", status)

	pi, err = svc.ConfirmPaymentIntent(ctx, pi.ID, pm.ID)
	require.NoError(t, err)
	status, _ = svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "succeeded", status)
}

func TestPaymentIntent_ThreeDSecureThenSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4000002500003155")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 2000, Currency: "eur", Customer: c.ID, PaymentMethod: pm.ID, Confirm: true,
	})
	require.NoError(t, err, "an authentication demand is not an error")
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "requires_action", status)
	assert.Empty(t, pi.Charges, "no charge happens before the challenge completes")

	pi, err = svc.AuthenticatePaymentIntent(ctx, pi.ID, true)
	require.NoError(t, err)
	status, _ = svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "succeeded", status)
}

func TestPaymentIntent_ThreeDSecureThenInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4000008260003178")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 2000, Currency: "eur", Customer: c.ID, PaymentMethod: pm.ID, Confirm: true,
	})
	require.NoError(t, err)
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	require.Equal(t, "requires_action", status)

	pi, err = svc.AuthenticatePaymentIntent(ctx, pi.ID, true)
	require.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
	code, _ := domain.ErrorDetails(err)
	assert.Equal(t, "insufficient_funds", code)

	status, _ = svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "requires_payment_method", status, "a declined intent is retryable with another method")
	require.NotNil(t, pi.LastError)
	assert.Equal(t, "insufficient_funds", pi.LastError.DeclineCode)
}

func TestPaymentIntent_AbandonedChallenge(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4000002500003155")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 2000, Currency: "eur", Customer: c.ID, PaymentMethod: pm.ID, Confirm: true,
	})
	require.NoError(t, err)

	pi, err = svc.AuthenticatePaymentIntent(ctx, pi.ID, false)
	require.NoError(t, err)
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "requires_payment_method", status)
}

func TestPaymentIntent_RetryAfterDecline(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	bad := attachCard(t, svc, c.ID, "4000000000000341")
	good := attachCard(t, svc, c.ID, "4242424242424242")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 2000, Currency: "eur", Customer: c.ID, PaymentMethod: bad.ID, Confirm: true,
	})
	require.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
	assert.Len(t, pi.Charges, 1)

	pi, err = svc.ConfirmPaymentIntent(ctx, pi.ID, good.ID)
	require.NoError(t, err)
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "succeeded", status)
	assert.Len(t, pi.Charges, 2, "the failed attempt stays on the record")
	assert.Nil(t, pi.LastError, "success clears the remembered error")
}

func TestPaymentIntent_ManualCapture(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 2000, Currency: "eur", Customer: c.ID, PaymentMethod: pm.ID,
		CaptureMethod: "manual", Confirm: true,
	})
	require.NoError(t, err)
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	require.Equal(t, "requires_capture", status)

	pi, err = svc.CapturePaymentIntent(ctx, pi.ID, i64(1500))
	require.NoError(t, err)
	status, _ = svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "succeeded", status)

	ch, err := svc.RetrieveCharge(ctx, pi.Charges[0])
	require.NoError(t, err)
	assert.Equal(t, int64(500), ch.AmountRefunded)
}

func TestPaymentIntent_CancelBlocksConfirm(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{Amount: 100, Currency: "eur", Customer: c.ID, PaymentMethod: pm.ID})
	require.NoError(t, err)

	pi, err = svc.CancelPaymentIntent(ctx, pi.ID)
	require.NoError(t, err)
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "canceled", status)

	_, err = svc.ConfirmPaymentIntent(ctx, pi.ID, "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestPaymentIntent_CancelSucceededRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 100, Currency: "eur", Customer: c.ID, PaymentMethod: pm.ID, Confirm: true,
	})
	require.NoError(t, err)

	_, err = svc.CancelPaymentIntent(ctx, pi.ID)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestSEPACharge_AsyncSettlement(t *testing.T) {
	ctx := context.Background()
	svc, sched := newService(t)
	c := newCustomer(t, svc)

	src, err := svc.CreateSource(ctx, payment.SourceParams{Type: "sepa_debit", IBAN: "DE89370400440532013000"})
	require.NoError(t, err)
	_, err = svc.AttachCustomerSource(ctx, c.ID, src.ID)
	require.NoError(t, err)

	ch, err := svc.CreateCharge(ctx, payment.ChargeParams{Amount: 1000, Currency: "eur", Customer: c.ID, Source: src.ID})
	require.NoError(t, err)
	assert.Equal(t, "pending", ch.Status, "debits do not settle synchronously")

	sched.Drain()

	ch, err = svc.RetrieveCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", ch.Status)
	assert.True(t, ch.Paid)
	assert.NotEmpty(t, ch.BalanceTxn)
}

func TestSEPACharge_FailingIBAN(t *testing.T) {
	ctx := context.Background()
	svc, sched := newService(t)
	c := newCustomer(t, svc)

	src, err := svc.CreateSource(ctx, payment.SourceParams{Type: "sepa_debit", IBAN: "DE62370400440532013001"})
	require.NoError(t, err)
	_, err = svc.AttachCustomerSource(ctx, c.ID, src.ID)
	require.NoError(t, err)

	pi, err := svc.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		Amount: 1000, Currency: "eur", Customer: c.ID, PaymentMethod: src.ID, Confirm: true,
	})
	require.NoError(t, err, "the decline only surfaces at settlement time")
	status, _ := svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "processing", status)

	sched.Drain()

	status, _ = svc.PaymentIntentStatus(ctx, pi)
	assert.Equal(t, "requires_payment_method", status)
	ch, err := svc.RetrieveCharge(ctx, pi.Charges[0])
	require.NoError(t, err)
	assert.Equal(t, "failed", ch.Status)
	assert.Equal(t, "insufficient_funds", ch.FailureCode)
}

type hookRecorder struct {
	succeeded []string
	failed    []string
	delayed   []bool
	canceled  []string
}

func (h *hookRecorder) PaymentSucceeded(_ context.Context, invoiceID, _ string) error {
	h.succeeded = append(h.succeeded, invoiceID)
	return nil
}

func (h *hookRecorder) PaymentFailed(_ context.Context, invoiceID string, delayedSettlement bool) error {
	h.failed = append(h.failed, invoiceID)
	h.delayed = append(h.delayed, delayedSettlement)
	return nil
}

func (h *hookRecorder) PaymentCanceled(_ context.Context, invoiceID string) error {
	h.canceled = append(h.canceled, invoiceID)
	return nil
}

func TestInvoiceHooks_FireOnSettlement(t *testing.T) {
	ctx := context.Background()
	svc, sched := newService(t)
	hooks := &hookRecorder{}
	svc.SetInvoiceHooks(hooks)

	c := newCustomer(t, svc)
	src, err := svc.CreateSource(ctx, payment.SourceParams{Type: "sepa_debit", IBAN: "DE89370400440532013000"})
	require.NoError(t, err)
	_, err = svc.AttachCustomerSource(ctx, c.ID, src.ID)
	require.NoError(t, err)

	pi, err := svc.CreatePaymentIntentForInvoice(ctx, 1100, "eur", c.ID, "in_test")
	require.NoError(t, err)
	_, err = svc.ConfirmPaymentIntent(ctx, pi.ID, src.ID)
	require.NoError(t, err)
	assert.Empty(t, hooks.succeeded, "hooks wait for settlement")

	sched.Drain()
	assert.Equal(t, []string{"in_test"}, hooks.succeeded)
	assert.Empty(t, hooks.failed)
}

func TestSetupIntent_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4242424242424242")

	si, err := svc.CreateSetupIntent(ctx, payment.SetupIntentParams{Customer: c.ID})
	require.NoError(t, err)
	assert.Equal(t, "requires_payment_method", si.Status)

	si, err = svc.ConfirmSetupIntent(ctx, si.ID, pm.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", si.Status)
}

func TestSetupIntent_ThreeDSecure(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4000002500003155")

	si, err := svc.CreateSetupIntent(ctx, payment.SetupIntentParams{Customer: c.ID, PaymentMethod: pm.ID, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, "requires_action", si.Status)

	si, err = svc.AuthenticateSetupIntent(ctx, si.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", si.Status)
}

func TestSetupIntent_DecliningCard(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)
	pm := attachCard(t, svc, c.ID, "4000000000000341")

	si, err := svc.CreateSetupIntent(ctx, payment.SetupIntentParams{Customer: c.ID})
	require.NoError(t, err)

	_, err = svc.ConfirmSetupIntent(ctx, si.ID, pm.ID)
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))

	si, err = svc.RetrieveSetupIntent(ctx, si.ID)
	require.NoError(t, err)
	assert.Equal(t, "requires_payment_method", si.Status)
}

func TestCustomerSources_AttachListDetach(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c := newCustomer(t, svc)

	tok, err := svc.CreateToken(ctx, payment.CardParams{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "123"})
	require.NoError(t, err)
	card, err := svc.AttachCustomerSource(ctx, c.ID, tok.ID)
	require.NoError(t, err)

	sources, err := svc.ListCustomerSources(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "4242", sources[0]["last4"])

	require.NoError(t, svc.DetachCustomerSource(ctx, c.ID, card.Export()["id"].(string)))
	sources, err = svc.ListCustomerSources(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, sources)
}
