// Package billing implements products, plans, tax rates, invoices and
// subscriptions on top of the payment layer. Invoice totals are always
// derived from their lines; invoice and subscription statuses follow
// from stored facts, never the other way around.
package billing

import (
	"context"
	"encoding/json"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectProduct is the stored object name for products.
const ObjectProduct = "product"

// Product is the thing a plan prices.
type Product struct {
	resource.Base
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

func (p *Product) Export() map[string]any {
	m := p.ExportCommon()
	m["name"] = p.Name
	m["type"] = p.Type
	m["description"] = orNil(p.Description)
	m["active"] = p.Active
	return m
}

// ProductParams are the accepted create/update fields. A caller-chosen
// ID turns the product into a natural-keyed resource.
type ProductParams struct {
	ID          string            `json:"id"`
	Name        *string           `json:"name"`
	Type        *string           `json:"type"`
	Description *string           `json:"description"`
	Active      *bool             `json:"active"`
	Metadata    map[string]string `json:"metadata"`
}

// CreateProduct creates a product. Reusing an explicit id is a
// conflict.
func (s *Service) CreateProduct(ctx context.Context, params ProductParams) (*Product, error) {
	const op = "product.create"
	if params.Name == nil || *params.Name == "" {
		return nil, domain.Invalid(op, "Missing required param: name.")
	}
	p := &Product{
		Base:   s.engine.NewBase(ObjectProduct, "prod_", params.ID),
		Name:   *params.Name,
		Type:   "service",
		Active: true,
	}
	if params.Type != nil {
		p.Type = *params.Type
	}
	if params.Description != nil {
		p.Description = *params.Description
	}
	if params.Active != nil {
		p.Active = *params.Active
	}
	p.Metadata = params.Metadata
	if err := s.engine.Create(ctx, ObjectProduct, p.ID, p); err != nil {
		return nil, err
	}
	s.publish(ctx, "product.created", p.Export())
	return p, nil
}

// RetrieveProduct loads a product by id.
func (s *Service) RetrieveProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	if err := s.engine.Retrieve(ctx, ObjectProduct, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct patches a product.
func (s *Service) UpdateProduct(ctx context.Context, id string, params ProductParams) (*Product, error) {
	p, err := s.RetrieveProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	if params.Description != nil {
		p.Description = *params.Description
	}
	if params.Active != nil {
		p.Active = *params.Active
	}
	p.Metadata = resource.MergeMetadata(p.Metadata, params.Metadata)
	if err := s.engine.Save(ctx, ObjectProduct, p.ID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProduct removes a product.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	return s.engine.Delete(ctx, ObjectProduct, id)
}

// ListProducts returns every product, oldest first.
func (s *Service) ListProducts(ctx context.Context) ([]*Product, error) {
	docs, err := s.engine.All(ctx, ObjectProduct)
	if err != nil {
		return nil, err
	}
	out := make([]*Product, 0, len(docs))
	for _, doc := range docs {
		var p Product
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	sortByCreated(out, func(p *Product) (int64, string) { return p.Created, p.ID })
	return out, nil
}
