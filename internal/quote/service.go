package quote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/rules"
)

// ErrUnknownProduct is returned when a cart line references a missing product.
var ErrUnknownProduct = errors.New("unknown product")

// Request is a cart to price.
type Request struct {
	OrderID   string        `json:"order_id" validate:"omitempty,uuid"`
	ProductID int64         `json:"product_id" validate:"gte=0"`
	Items     []ItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
}

// ItemRequest is one cart line.
type ItemRequest struct {
	Key            string            `json:"key" validate:"omitempty,max=64"`
	ProductID      int64             `json:"product_id" validate:"required,gt=0"`
	Quantity       int               `json:"quantity" validate:"required,gte=1,lte=10000"`
	Variation      map[string]string `json:"variation" validate:"omitempty,max=20"`
	Extra          bool              `json:"extra"`
	BundleParentID string            `json:"bundle_parent_id" validate:"omitempty,max=64"`
}

// Response is a priced cart.
type Response struct {
	Items          []*pricing.CartItem     `json:"items"`
	Applied        []pricing.AppliedRule   `json:"applied_rules"`
	Encouragements []pricing.Encouragement `json:"encouragements"`
	Summary        pricing.Summary         `json:"summary"`
	Recorded       bool                    `json:"recorded"`
}

// CatalogLoader loads the catalog slice a cart needs.
type CatalogLoader interface {
	Snapshot(ctx context.Context, productIDs, extraTerms []int64) (*catalog.Snapshot, error)
}

// RuleSource serves the active rule set.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]pricing.Rule, []rules.Definition, error)
}

// OrderRecorder schedules recording of the rules applied to an order.
type OrderRecorder interface {
	Enqueue(ctx context.Context, orderID uuid.UUID, ruleIDs []string) error
}

// Config groups Service dependencies.
type Config struct {
	Catalog  CatalogLoader
	Rules    RuleSource
	Orders   OrderRecorder
	Settings pricing.Settings
	Policy   pricing.Policy
	Metrics  pricing.Recorder
	Logger   zerolog.Logger
}

// Service prices carts.
type Service struct {
	cfg      Config
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewService constructs a Service instance.
func NewService(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("quote: catalog loader is required")
	}
	if cfg.Rules == nil {
		return nil, errors.New("quote: rule source is required")
	}
	return &Service{cfg: cfg, validate: newValidator(), tracer: otel.Tracer("pricing.Quote")}, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Quote prices the request cart against the active rules.
func (s *Service) Quote(ctx context.Context, req Request) (Response, error) {
	if err := s.validateRequest(req); err != nil {
		return Response{}, err
	}
	ctx, span := s.tracer.Start(ctx, "Quote")
	defer span.End()
	span.SetAttributes(attribute.Int("pricing.items", len(req.Items)))

	built, defs, err := s.cfg.Rules.ActiveRules(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load rules")
		return Response{}, fmt.Errorf("load rules: %w", err)
	}

	ids := make([]int64, 0, len(req.Items)+1)
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	if req.ProductID > 0 {
		ids = append(ids, req.ProductID)
	}
	snap, err := s.cfg.Catalog.Snapshot(ctx, ids, rules.AttributeTermIDs(defs))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load catalog")
		return Response{}, fmt.Errorf("load catalog: %w", err)
	}

	cart, err := s.buildCart(snap, req.Items)
	if err != nil {
		return Response{}, err
	}
	var scope *pricing.Product
	if req.ProductID > 0 {
		p, ok := snap.Product(req.ProductID)
		if !ok {
			return Response{}, unknownProduct(req.ProductID)
		}
		scope = &p
	}

	engine, err := pricing.NewEngine(pricing.EngineConfig{
		Matcher:     pricing.NewMatcher(snap, nil, s.cfg.Settings),
		Policy:      s.cfg.Policy,
		ItemFilters: []pricing.ItemFilter{pricing.DropBundledComponents},
		Logger:      &s.cfg.Logger,
		Recorder:    s.cfg.Metrics,
	})
	if err != nil {
		return Response{}, err
	}
	res, err := engine.Price(pricing.Request{Cart: cart, Rules: built, Scope: scope})
	if err != nil {
		span.RecordError(err)
		return Response{}, common.BadRequest("items", err.Error(), err)
	}
	span.SetAttributes(
		attribute.Int("pricing.rules", len(built)),
		attribute.Int("pricing.applied", len(res.Applied)),
		attribute.String("pricing.discount", res.Summary.Discount.String()),
	)

	out := Response{
		Items:          res.Cart.Items,
		Applied:        res.Applied,
		Encouragements: res.Encouragements,
		Summary:        res.Summary,
	}
	roundOutput(&out)
	if out.Applied == nil {
		out.Applied = []pricing.AppliedRule{}
	}
	if out.Encouragements == nil {
		out.Encouragements = []pricing.Encouragement{}
	}
	if req.OrderID != "" && s.cfg.Orders != nil {
		orderID := uuid.MustParse(req.OrderID)
		if err := s.cfg.Orders.Enqueue(ctx, orderID, res.AppliedRuleIDs()); err != nil {
			span.RecordError(err)
			s.cfg.Logger.Error().Err(err).Str("order_id", req.OrderID).Msg("enqueue applied rules failed")
		} else {
			out.Recorded = true
		}
	}
	return out, nil
}

func (s *Service) validateRequest(req Request) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.BadRequest("body", "invalid request", err)
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = fe.Tag()
	}
	return &common.AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "validation failed",
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        err,
		Details:    details,
	}
}

// buildCart prices each line at the product's base price and assigns
// generated keys to lines that carry none.
func (s *Service) buildCart(snap *catalog.Snapshot, items []ItemRequest) (*pricing.Cart, error) {
	prices := pricing.StandardPrices{Base: s.cfg.Settings.DiscountBase}
	cart := &pricing.Cart{Items: make([]*pricing.CartItem, 0, len(items))}
	for _, it := range items {
		p, ok := snap.Product(it.ProductID)
		if !ok {
			return nil, unknownProduct(it.ProductID)
		}
		key := strings.TrimSpace(it.Key)
		if key == "" {
			key = uuid.NewString()
		}
		cart.Items = append(cart.Items, &pricing.CartItem{
			Key:            key,
			Product:        p,
			Quantity:       it.Quantity,
			Price:          prices.ProductPrice(p),
			Variation:      it.Variation,
			Extra:          it.Extra,
			BundleParentID: strings.TrimSpace(it.BundleParentID),
		})
	}
	return cart, nil
}

// roundOutput rounds every amount to currency precision. The total is derived
// from the rounded subtotal and discount so the three always reconcile.
func roundOutput(out *Response) {
	for _, it := range out.Items {
		it.Price = pricing.RoundMoney(it.Price)
		it.Discount = pricing.RoundMoney(it.Discount)
		for i := range it.Modifiers {
			it.Modifiers[i].DiscountPerUnit = pricing.RoundMoney(it.Modifiers[i].DiscountPerUnit)
		}
	}
	for i := range out.Applied {
		out.Applied[i].Discount = pricing.RoundMoney(out.Applied[i].Discount)
	}
	out.Summary.Subtotal = pricing.RoundMoney(out.Summary.Subtotal)
	out.Summary.Discount = pricing.RoundMoney(out.Summary.Discount)
	out.Summary.Total = out.Summary.Subtotal.Sub(out.Summary.Discount)
}

func unknownProduct(id int64) error {
	return &common.AppError{
		Code:       "UNKNOWN_PRODUCT",
		Message:    fmt.Sprintf("product %d does not exist", id),
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        ErrUnknownProduct,
		Details:    map[string]any{"product_id": id},
	}
}
