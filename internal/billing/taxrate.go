package billing

import (
	"context"
	"encoding/json"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectTaxRate is the stored object name for tax rates.
const ObjectTaxRate = "tax_rate"

// TaxRate is a named percentage applied to invoice lines.
type TaxRate struct {
	resource.Base
	DisplayName  string  `json:"display_name"`
	Percentage   float64 `json:"percentage"`
	Inclusive    bool    `json:"inclusive"`
	Jurisdiction string  `json:"jurisdiction"`
	Active       bool    `json:"active"`
}

func (t *TaxRate) Export() map[string]any {
	m := t.ExportCommon()
	m["display_name"] = t.DisplayName
	m["percentage"] = t.Percentage
	m["inclusive"] = t.Inclusive
	m["jurisdiction"] = orNil(t.Jurisdiction)
	m["active"] = t.Active
	return m
}

// TaxRateParams are the accepted create/update fields.
type TaxRateParams struct {
	DisplayName  *string           `json:"display_name"`
	Percentage   *float64          `json:"percentage"`
	Inclusive    *bool             `json:"inclusive"`
	Jurisdiction *string           `json:"jurisdiction"`
	Active       *bool             `json:"active"`
	Metadata     map[string]string `json:"metadata"`
}

// CreateTaxRate creates a tax rate.
func (s *Service) CreateTaxRate(ctx context.Context, params TaxRateParams) (*TaxRate, error) {
	const op = "tax_rate.create"
	if params.DisplayName == nil || *params.DisplayName == "" {
		return nil, domain.Invalid(op, "Missing required param: display_name.")
	}
	if params.Percentage == nil || *params.Percentage < 0 {
		return nil, domain.Invalid(op, "Missing required param: percentage.")
	}
	t := &TaxRate{
		Base:        s.engine.NewBase(ObjectTaxRate, "txr_", ""),
		DisplayName: *params.DisplayName,
		Percentage:  *params.Percentage,
		Active:      true,
	}
	if params.Inclusive != nil {
		t.Inclusive = *params.Inclusive
	}
	if params.Jurisdiction != nil {
		t.Jurisdiction = *params.Jurisdiction
	}
	t.Metadata = params.Metadata
	if err := s.engine.Create(ctx, ObjectTaxRate, t.ID, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RetrieveTaxRate loads a tax rate by id.
func (s *Service) RetrieveTaxRate(ctx context.Context, id string) (*TaxRate, error) {
	var t TaxRate
	if err := s.engine.Retrieve(ctx, ObjectTaxRate, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTaxRate patches display fields. Percentage is immutable after
// creation.
func (s *Service) UpdateTaxRate(ctx context.Context, id string, params TaxRateParams) (*TaxRate, error) {
	const op = "tax_rate.update"
	t, err := s.RetrieveTaxRate(ctx, id)
	if err != nil {
		return nil, err
	}
	if params.Percentage != nil && *params.Percentage != t.Percentage {
		return nil, domain.Invalid(op, "The percentage of a tax rate cannot be changed.")
	}
	if params.DisplayName != nil {
		t.DisplayName = *params.DisplayName
	}
	if params.Jurisdiction != nil {
		t.Jurisdiction = *params.Jurisdiction
	}
	if params.Active != nil {
		t.Active = *params.Active
	}
	t.Metadata = resource.MergeMetadata(t.Metadata, params.Metadata)
	if err := s.engine.Save(ctx, ObjectTaxRate, t.ID, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTaxRates returns every tax rate, oldest first.
func (s *Service) ListTaxRates(ctx context.Context) ([]*TaxRate, error) {
	docs, err := s.engine.All(ctx, ObjectTaxRate)
	if err != nil {
		return nil, err
	}
	out := make([]*TaxRate, 0, len(docs))
	for _, doc := range docs {
		var t TaxRate
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	sortByCreated(out, func(t *TaxRate) (int64, string) { return t.Created, t.ID })
	return out, nil
}

func (s *Service) loadTaxRates(ctx context.Context, ids []string) ([]*TaxRate, error) {
	rates := make([]*TaxRate, 0, len(ids))
	for _, id := range ids {
		t, err := s.RetrieveTaxRate(ctx, id)
		if err != nil {
			return nil, err
		}
		rates = append(rates, t)
	}
	return rates, nil
}
