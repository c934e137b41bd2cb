package rules_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/rules"
)

type memRepo struct {
	defs      map[string]rules.Definition
	listCalls int
}

func newMemRepo(defs ...rules.Definition) *memRepo {
	repo := &memRepo{defs: map[string]rules.Definition{}}
	for _, d := range defs {
		repo.defs[d.ID] = d
	}
	return repo
}

func (m *memRepo) List(_ context.Context, activeOnly bool) ([]rules.Definition, error) {
	m.listCalls++
	out := make([]rules.Definition, 0, len(m.defs))
	for _, d := range m.defs {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) Get(_ context.Context, id string) (rules.Definition, error) {
	d, ok := m.defs[id]
	if !ok {
		return rules.Definition{}, rules.ErrNotFound
	}
	return d, nil
}

func (m *memRepo) Create(_ context.Context, def rules.Definition) (rules.Definition, error) {
	if _, ok := m.defs[def.ID]; ok {
		return rules.Definition{}, rules.ErrDuplicate
	}
	def.CreatedAt = time.Unix(0, 0).UTC()
	m.defs[def.ID] = def
	return def, nil
}

func (m *memRepo) Update(_ context.Context, def rules.Definition) (rules.Definition, error) {
	if _, ok := m.defs[def.ID]; !ok {
		return rules.Definition{}, rules.ErrNotFound
	}
	m.defs[def.ID] = def
	return def, nil
}

func bundleDefinition(id string, active bool) rules.Definition {
	return rules.Definition{
		RuleConfig: pricing.RuleConfig{
			ID:   id,
			Name: "Bundle " + id,
			Type: pricing.BundleRuleType,
			Filters: []pricing.Filter{
				{Kind: pricing.FilterProduct, Comparison: pricing.InList, Value: pricing.IDList(1, 2)},
			},
			Pricing: pricing.PricingConfig{Type: pricing.PercentageDiscount, Value: decimal.NewFromInt(10), ForGroup: true},
		},
		Active: active,
	}
}

func fieldRules(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, rules.ErrInvalidDefinition)
	out := map[string]string{}
	for _, f := range verr.Fields {
		out[f.Field] = f.Rule
	}
	return out
}

func TestValidateAcceptsBundle(t *testing.T) {
	require.NoError(t, rules.Validate(bundleDefinition("summer-bundle", true)))
}

func TestValidateReportsEveryField(t *testing.T) {
	def := rules.Definition{RuleConfig: pricing.RuleConfig{
		ID:        "Bad Id",
		Type:      "gift",
		Priority:  -1,
		MatchType: "some",
		Pricing:   pricing.PricingConfig{Type: pricing.PercentageDiscount, Value: decimal.NewFromInt(150)},
	}}

	fields := fieldRules(t, rules.Validate(def))
	require.Equal(t, "ruleid", fields["id"])
	require.Equal(t, "required", fields["name"])
	require.Equal(t, "ruletype", fields["type"])
	require.Equal(t, "gte", fields["priority"])
	require.Equal(t, "oneof", fields["match_type"])
	require.Equal(t, "lte", fields["pricing.value"])
	require.Equal(t, "min", fields["filters"])
}

func TestValidateFilters(t *testing.T) {
	def := bundleDefinition("filters", true)
	def.Filters = []pricing.Filter{
		{Kind: pricing.FilterPrice, Comparison: pricing.InList, Value: pricing.IDList(1)},
		{Kind: pricing.FilterCategory, Comparison: pricing.GreaterOrEqual, Value: pricing.IDList()},
		{Kind: "product_brand", Comparison: pricing.InList, Value: pricing.IDList(1)},
		{Kind: pricing.FilterAllProducts},
	}
	def.Conditions.Logic = []pricing.Condition{{Type: "cart_weight", Comparison: "between", Value: decimal.NewFromInt(-1)}}

	fields := fieldRules(t, rules.Validate(def))
	require.Equal(t, "comparation", fields["filters[0].comparation"])
	require.Equal(t, "number", fields["filters[0].value"])
	require.Equal(t, "oneof", fields["filters[1].comparation"])
	require.Equal(t, "required", fields["filters[1].value"])
	require.Equal(t, "filtertype", fields["filters[2].type"])
	require.NotContains(t, fields, "filters[3].type")
	require.Equal(t, "oneof", fields["conditions.logic[0].type"])
	require.Equal(t, "comparation", fields["conditions.logic[0].comparation"])
	require.Equal(t, "gte", fields["conditions.logic[0].value"])
}

func TestValidateAcceptsComparisonAliases(t *testing.T) {
	def := bundleDefinition("aliases", true)
	def.Filters = append(def.Filters, pricing.Filter{
		Kind: pricing.FilterPrice, Comparison: "greater_equal", Value: pricing.NumberValue(decimal.NewFromInt(5)),
	})
	require.NoError(t, rules.Validate(def))
}

func TestAttributeTermIDs(t *testing.T) {
	def := bundleDefinition("attrs", true)
	def.Filters = append(def.Filters, pricing.Filter{Kind: pricing.FilterAttribute, Comparison: pricing.InList, Value: pricing.IDList(40, 41)})

	require.Equal(t, []int64{40, 41}, rules.AttributeTermIDs([]rules.Definition{def, bundleDefinition("plain", true)}))
}

func TestServiceActiveUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemRepo(bundleDefinition("a", true), bundleDefinition("b", false))
	svc, err := rules.NewService(rules.ServiceConfig{Repository: repo, Cache: cache.NewCache(client, time.Minute), Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx := context.Background()
	defs, err := svc.Active(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "a", defs[0].ID)

	_, err = svc.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, repo.listCalls)

	_, err = svc.Create(ctx, bundleDefinition("c", true))
	require.NoError(t, err)
	require.False(t, mr.Exists(cache.KeyActiveRules))

	defs, err = svc.Active(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, 2, repo.listCalls)
}

func TestServiceActiveRulesSkipsUnbuildable(t *testing.T) {
	broken := bundleDefinition("broken", true)
	broken.Type = "retired_type"
	svc, err := rules.NewService(rules.ServiceConfig{Repository: newMemRepo(bundleDefinition("ok", true), broken)})
	require.NoError(t, err)

	built, defs, err := svc.ActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, built, 1)
	require.Equal(t, "ok", built[0].ID())
	require.Len(t, defs, 1)
}

func TestServiceCreateNormalizesDefaults(t *testing.T) {
	repo := newMemRepo()
	svc, err := rules.NewService(rules.ServiceConfig{Repository: repo})
	require.NoError(t, err)

	def := bundleDefinition("  padded  ", true)
	out, err := svc.Create(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, "padded", out.ID)
	require.Equal(t, pricing.MatchAny, out.MatchType)
	require.Equal(t, pricing.MatchAll, out.Conditions.MatchType)

	_, err = svc.Create(context.Background(), def)
	require.ErrorIs(t, err, rules.ErrDuplicate)
}

func TestServiceNames(t *testing.T) {
	svc, err := rules.NewService(rules.ServiceConfig{Repository: newMemRepo(bundleDefinition("a", true), bundleDefinition("b", false))})
	require.NoError(t, err)

	names, err := svc.Names(context.Background(), []string{"b", "gone"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"b": "Bundle b"}, names)
}

func TestNewServiceRequiresRepository(t *testing.T) {
	_, err := rules.NewService(rules.ServiceConfig{})
	require.Error(t, err)
}

func newRouter(t *testing.T, repo rules.Repository) http.Handler {
	t.Helper()
	svc, err := rules.NewService(rules.ServiceConfig{Repository: repo})
	require.NoError(t, err)
	h := &rules.Handler{Svc: svc}
	r := chi.NewRouter()
	r.Route("/rules", h.Routes)
	return r
}

func TestHandlerCreateAndList(t *testing.T) {
	router := newRouter(t, newMemRepo())

	payload := []byte(`{
		"id": "tee-bundle",
		"name": "Tee bundle",
		"type": "product_bundle",
		"priority": 5,
		"active": true,
		"filters": [{"type": "product", "comparation": "in_list", "value": [{"value": 7, "label": "Tee"}]}],
		"pricing": {"type": "fixed_discount", "value": "3", "for_group": true}
	}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules/", bytes.NewReader(payload)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []rules.Definition `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, []int64{7}, body.Data[0].Filters[0].Value.IDs)
	require.True(t, body.Data[0].Pricing.ForGroup)
}

func TestHandlerErrors(t *testing.T) {
	router := newRouter(t, newMemRepo(bundleDefinition("taken", true)))

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed", http.MethodPost, "/rules/", `{`, http.StatusBadRequest, "BAD_REQUEST"},
		{"invalid", http.MethodPost, "/rules/", `{"id":"x","type":"product_bundle"}`, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"missing", http.MethodGet, "/rules/nope", ``, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body)))
			require.Equal(t, tc.status, rec.Code)
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.code, body.Error.Code)
		})
	}
}

func TestHandlerUpdateUsesPathID(t *testing.T) {
	repo := newMemRepo(bundleDefinition("taken", true))
	router := newRouter(t, repo)

	def := bundleDefinition("ignored", false)
	def.Name = "Renamed"
	payload, err := json.Marshal(def)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/rules/taken", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Renamed", repo.defs["taken"].Name)
	require.False(t, repo.defs["taken"].Active)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/rules/absent", bytes.NewReader(payload)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
