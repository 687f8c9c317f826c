package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectSetupIntent is the stored object name for setup intents.
const ObjectSetupIntent = "setup_intent"

// SetupIntent validates an instrument for later off-session use. No
// money moves, so unlike a payment intent its status is a plain stored
// field.
type SetupIntent struct {
	resource.Base
	Customer     string         `json:"customer"`
	Method       string         `json:"method"`
	Status       string         `json:"status"`
	ClientSecret string         `json:"client_secret"`
	NextAction   map[string]any `json:"next_action"`
	Usage        string         `json:"usage"`
}

func (si *SetupIntent) Export() map[string]any {
	m := si.ExportCommon()
	m["customer"] = orNil(si.Customer)
	m["payment_method"] = orNil(si.Method)
	m["status"] = si.Status
	m["client_secret"] = si.ClientSecret
	m["next_action"] = si.NextAction
	m["usage"] = si.Usage
	return m
}

// SetupIntentParams are the accepted create fields.
type SetupIntentParams struct {
	Customer      string            `json:"customer"`
	PaymentMethod string            `json:"payment_method"`
	Confirm       bool              `json:"confirm"`
	Metadata      map[string]string `json:"metadata"`
}

// CreateSetupIntent creates a setup intent, confirming immediately when
// asked to.
func (s *Service) CreateSetupIntent(ctx context.Context, params SetupIntentParams) (*SetupIntent, error) {
	if params.Customer != "" {
		if _, err := s.RetrieveCustomer(ctx, params.Customer); err != nil {
			return nil, err
		}
	}
	si := &SetupIntent{
		Base:     s.engine.NewBase(ObjectSetupIntent, "seti_", ""),
		Customer: params.Customer,
		Method:   params.PaymentMethod,
		Status:   "requires_payment_method",
		Usage:    "off_session",
	}
	if si.Method != "" {
		si.Status = "requires_confirmation"
	}
	si.ClientSecret = fmt.Sprintf("%s_secret_%s", si.ID, resource.RandomID(16))
	si.Metadata = params.Metadata
	if err := s.engine.Create(ctx, ObjectSetupIntent, si.ID, si); err != nil {
		return nil, err
	}
	s.publish(ctx, "setup_intent.created", si.Export())

	if params.Confirm {
		return s.ConfirmSetupIntent(ctx, si.ID, "")
	}
	return si, nil
}

// RetrieveSetupIntent loads a setup intent by id.
func (s *Service) RetrieveSetupIntent(ctx context.Context, id string) (*SetupIntent, error) {
	var si SetupIntent
	if err := s.engine.Retrieve(ctx, ObjectSetupIntent, id, &si); err != nil {
		return nil, err
	}
	return &si, nil
}

// ListSetupIntents returns setup intents, optionally filtered by
// customer, oldest first.
func (s *Service) ListSetupIntents(ctx context.Context, customerID string) ([]*SetupIntent, error) {
	docs, err := s.engine.All(ctx, ObjectSetupIntent)
	if err != nil {
		return nil, err
	}
	var out []*SetupIntent
	for _, doc := range docs {
		var si SetupIntent
		if err := json.Unmarshal(doc, &si); err != nil {
			return nil, err
		}
		if customerID != "" && si.Customer != customerID {
			continue
		}
		out = append(out, &si)
	}
	sortByCreated(out, func(si *SetupIntent) (int64, string) { return si.Created, si.ID })
	return out, nil
}

// ConfirmSetupIntent validates the attached instrument. Cards that
// would decline a charge decline the setup too; authentication-gated
// cards park the intent in requires_action first.
func (s *Service) ConfirmSetupIntent(ctx context.Context, id, paymentMethod string) (*SetupIntent, error) {
	const op = "setup_intent.confirm"
	si, err := s.RetrieveSetupIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if si.Status == "canceled" {
		return nil, domain.Invalid(op, "This SetupIntent has been canceled.")
	}
	if si.Status == "succeeded" {
		return si, nil
	}
	if paymentMethod != "" {
		si.Method = paymentMethod
	}
	if si.Method == "" {
		return nil, domain.Invalid(op, "You cannot confirm this SetupIntent because it's missing a payment method.")
	}

	kind, number, err := s.instrumentKind(ctx, si.Method)
	if err != nil {
		return nil, err
	}
	if kind == "card" {
		behavior := behaviorFor(number)
		if behavior.requiresAuth && si.Status != "requires_action" {
			si.Status = "requires_action"
			si.NextAction = map[string]any{"type": "use_stripe_sdk", "use_stripe_sdk": map[string]any{"type": "three_d_secure_redirect"}}
			if err := s.engine.Save(ctx, ObjectSetupIntent, si.ID, si); err != nil {
				return nil, err
			}
			return si, nil
		}
		if behavior.declineAtAttach || behavior.chargeDeclineCode == "card_declined" {
			si.Status = "requires_payment_method"
			si.Method = ""
			if err := s.engine.Save(ctx, ObjectSetupIntent, si.ID, si); err != nil {
				return nil, err
			}
			return nil, domain.Declined(op, "card_declined", "")
		}
	}

	si.Status = "succeeded"
	si.NextAction = nil
	if err := s.engine.Save(ctx, ObjectSetupIntent, si.ID, si); err != nil {
		return nil, err
	}
	s.publish(ctx, "setup_intent.succeeded", si.Export())
	return si, nil
}

// AuthenticateSetupIntent completes the simulated 3-D Secure challenge
// for a setup intent.
func (s *Service) AuthenticateSetupIntent(ctx context.Context, id string, success bool) (*SetupIntent, error) {
	const op = "setup_intent.authenticate"
	si, err := s.RetrieveSetupIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if si.Status != "requires_action" {
		return nil, domain.Invalid(op, "This SetupIntent does not require an action.")
	}
	si.NextAction = nil
	if !success {
		si.Status = "requires_payment_method"
		si.Method = ""
		if err := s.engine.Save(ctx, ObjectSetupIntent, si.ID, si); err != nil {
			return nil, err
		}
		return si, nil
	}
	return s.ConfirmSetupIntent(ctx, si.ID, "")
}

// CancelSetupIntent cancels a setup intent that has not succeeded.
func (s *Service) CancelSetupIntent(ctx context.Context, id string) (*SetupIntent, error) {
	const op = "setup_intent.cancel"
	si, err := s.RetrieveSetupIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if si.Status == "succeeded" {
		return nil, domain.Invalid(op, "You cannot cancel this SetupIntent because it has a status of succeeded.")
	}
	si.Status = "canceled"
	si.NextAction = nil
	if err := s.engine.Save(ctx, ObjectSetupIntent, si.ID, si); err != nil {
		return nil, err
	}
	return si, nil
}
