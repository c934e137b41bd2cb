package catalog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

type fakeStore struct {
	products     map[int64]pricing.Product
	terms        map[int64]pricing.Term
	productCalls int
	termCalls    int
}

func (f *fakeStore) ProductsByIDs(_ context.Context, ids []int64) ([]pricing.Product, error) {
	f.productCalls++
	var out []pricing.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) TermsByIDs(_ context.Context, ids []int64) ([]pricing.Term, error) {
	f.termCalls++
	var out []pricing.Term
	for _, id := range ids {
		if t, ok := f.terms[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[int64]pricing.Product{
			100: {ID: 100, Type: pricing.ProductVariable, Name: "Tee", Children: []int64{101, 102}, CategoryIDs: []int64{11}, RegularPrice: decimal.NewFromInt(30)},
			101: {ID: 101, ParentID: 100, Type: pricing.ProductVariation, Name: "Tee - Red", RegularPrice: decimal.NewFromInt(30)},
			102: {ID: 102, ParentID: 100, Type: pricing.ProductVariation, Name: "Tee - Blue", RegularPrice: decimal.NewFromInt(28)},
			200: {ID: 200, Type: pricing.ProductSimple, Name: "Mug", TagIDs: []int64{20}, RegularPrice: decimal.NewFromInt(12)},
		},
		terms: map[int64]pricing.Term{
			10: {ID: 10, Taxonomy: "product_cat", Slug: "apparel"},
			11: {ID: 11, Taxonomy: "product_cat", Slug: "shirts", ParentID: 10},
			20: {ID: 20, Taxonomy: "product_tag", Slug: "gifts"},
			30: {ID: 30, Taxonomy: "pa_color", Slug: "red"},
		},
	}
}

func TestSnapshotLoadsRelatedProductsAndAncestors(t *testing.T) {
	store := newFakeStore()
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: store})
	require.NoError(t, err)

	snap, err := svc.Snapshot(context.Background(), []int64{101, 200}, []int64{30})
	require.NoError(t, err)

	for _, id := range []int64{100, 101, 102, 200} {
		_, ok := snap.Product(id)
		require.True(t, ok, "product %d", id)
	}
	for _, id := range []int64{10, 11, 20, 30} {
		_, ok := snap.Term(id)
		require.True(t, ok, "term %d", id)
	}
	require.Equal(t, 4, snap.ProductCount())
	require.Equal(t, 4, snap.TermCount())
}

func TestSnapshotFeedsMatcher(t *testing.T) {
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: newFakeStore()})
	require.NoError(t, err)
	snap, err := svc.Snapshot(context.Background(), []int64{101}, nil)
	require.NoError(t, err)

	red, _ := snap.Product(101)
	m := pricing.NewMatcher(snap, nil, pricing.Settings{})
	filter := pricing.Filter{Kind: pricing.FilterCategory, Comparison: pricing.InList, Value: pricing.IDList(10)}
	require.True(t, m.Matches(red, filter, ""))
}

func TestServiceUsesRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store := newFakeStore()
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: store, Cache: cache.NewCache(client, time.Minute)})
	require.NoError(t, err)

	ctx := context.Background()
	first, err := svc.Products(ctx, []int64{200})
	require.NoError(t, err)
	require.Equal(t, 1, store.productCalls)
	require.True(t, mr.Exists("catalog:product:200"))

	second, err := svc.Products(ctx, []int64{200})
	require.NoError(t, err)
	require.Equal(t, 1, store.productCalls, "second read served from cache")
	require.Equal(t, first[200].Name, second[200].Name)
	require.True(t, first[200].RegularPrice.Equal(second[200].RegularPrice))

	_, err = svc.Terms(ctx, []int64{20})
	require.NoError(t, err)
	require.True(t, mr.Exists("catalog:term:20"))

	require.NoError(t, svc.Invalidate(ctx, []int64{200}, []int64{20}))
	require.False(t, mr.Exists("catalog:product:200"))
	require.False(t, mr.Exists("catalog:term:20"))
	require.NoError(t, svc.Invalidate(ctx, nil, nil))
}

func TestServiceLogsCacheFailures(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer func() { _ = client.Close() }()
	mr.Close()

	var buf bytes.Buffer
	store := newFakeStore()
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Store:  store,
		Cache:  cache.NewCache(client, time.Minute),
		Logger: zerolog.New(&buf),
	})
	require.NoError(t, err)

	found, err := svc.Products(context.Background(), []int64{200})
	require.NoError(t, err, "a failing cache falls back to the store")
	require.Equal(t, "Mug", found[200].Name)
	require.Equal(t, 1, store.productCalls)
	require.Contains(t, buf.String(), "catalog cache read failed")
	require.Contains(t, buf.String(), "catalog cache write failed")
}

func TestProductHandler(t *testing.T) {
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: newFakeStore()})
	require.NoError(t, err)
	h := catalog.NewHandler(catalog.HandlerConfig{Service: svc})
	r := chi.NewRouter()
	r.Get("/api/v1/catalog/products/{id}", h.Product)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/products/200", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data pricing.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "Mug", body.Data.Name)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/products/999", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/products/abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := catalog.NewService(catalog.ServiceConfig{})
	require.Error(t, err)
}
