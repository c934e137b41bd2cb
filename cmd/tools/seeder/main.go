package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/rules"
)

type term struct {
	ID       int64
	Taxonomy string
	Slug     string
	Name     string
	ParentID int64
}

type product struct {
	ID         int64
	ParentID   int64
	Type       pricing.ProductType
	Name       string
	Regular    string
	Sale       string
	Categories []int64
	Tags       []int64
	Attributes []pricing.ProductAttribute
	MenuOrder  int
}

var terms = []term{
	{10, "product_cat", "apparel", "Apparel", 0},
	{11, "product_cat", "tees", "Tees", 10},
	{12, "product_cat", "hoodies", "Hoodies", 10},
	{20, "product_cat", "accessories", "Accessories", 0},
	{30, "product_tag", "summer", "Summer", 0},
	{40, "pa_color", "red", "Red", 0},
	{41, "pa_color", "blue", "Blue", 0},
}

var products = []product{
	{ID: 100, Type: pricing.ProductSimple, Name: "Logo tee", Regular: "20", Categories: []int64{11}, Tags: []int64{30}},
	{ID: 101, Type: pricing.ProductSimple, Name: "Pocket tee", Regular: "25", Sale: "22", Categories: []int64{11}},
	{ID: 200, Type: pricing.ProductVariable, Name: "Zip hoodie", Regular: "60", Categories: []int64{12},
		Attributes: []pricing.ProductAttribute{{Taxonomy: "pa_color", Options: []string{"red", "blue"}, Visible: true, Variation: true}}},
	{ID: 201, ParentID: 200, Type: pricing.ProductVariation, Name: "Zip hoodie - Red", Regular: "60", MenuOrder: 1,
		Attributes: []pricing.ProductAttribute{{Taxonomy: "pa_color", Options: []string{"red"}, Variation: true}}},
	{ID: 202, ParentID: 200, Type: pricing.ProductVariation, Name: "Zip hoodie - Blue", Regular: "55", MenuOrder: 2,
		Attributes: []pricing.ProductAttribute{{Taxonomy: "pa_color", Options: []string{"blue"}, Variation: true}}},
	{ID: 300, Type: pricing.ProductSimple, Name: "Canvas tote", Regular: "15", Categories: []int64{20}, Tags: []int64{30}},
}

func seedRules() []rules.Definition {
	return []rules.Definition{
		{Active: true, RuleConfig: pricing.RuleConfig{
			ID: "tee-trio", Name: "Any three tees, 15% off", Type: pricing.BundleRuleType, Priority: 10,
			Filters: []pricing.Filter{{Kind: pricing.FilterCategory, Comparison: pricing.InList, Value: pricing.IDList(11)}},
			Pricing: pricing.PricingConfig{Type: pricing.PercentageDiscount, Value: decimal.NewFromInt(15), BuyQuantity: 3, ForGroup: true},
		}},
		{Active: true, RuleConfig: pricing.RuleConfig{
			ID: "summer-tote", Name: "Summer tote for 9", Type: pricing.BundleRuleType, Priority: 20,
			Filters: []pricing.Filter{{Kind: pricing.FilterProduct, Comparison: pricing.InList, Value: pricing.IDList(300)}},
			Pricing: pricing.PricingConfig{Type: pricing.FlatPrice, Value: decimal.NewFromInt(9), BuyQuantity: 1},
			Conditions: pricing.Conditions{MatchType: pricing.MatchAll, Logic: []pricing.Condition{
				{Type: pricing.ConditionCartSubtotal, Comparison: pricing.GreaterOrEqual, Value: decimal.NewFromInt(50)},
			}},
		}},
		{Active: true, RuleConfig: pricing.RuleConfig{
			ID: "red-hoodie", Name: "5 off red hoodies", Type: pricing.BundleRuleType, Priority: 30,
			Filters: []pricing.Filter{{Kind: pricing.FilterAttribute, Comparison: pricing.InList, Value: pricing.IDList(40)}},
			Pricing: pricing.PricingConfig{Type: pricing.FixedDiscount, Value: decimal.NewFromInt(5)},
		}},
	}
}

func main() {
	migrateFirst := flag.Bool("migrate", true, "apply migrations before seeding")
	tokenFor := flag.String("admin-token", "", "print an admin token for this subject and exit")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "console"), envOrDefault("OBS_LOG_LEVEL", "info"))

	if *tokenFor != "" {
		if err := printToken(*tokenFor); err != nil {
			logger.Fatal().Err(err).Msg("issue admin token")
		}
		return
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if *migrateFirst {
		if err := db.Migrate(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	// Without Redis nothing is cached, so there is nothing to invalidate.
	var client *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		client = redis.NewClient(opts)
		defer func() { _ = client.Close() }()
	}
	c := cache.NewCache(client, 0)

	if err := seedCatalog(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed catalog")
	}
	if err := invalidateCatalog(ctx, pool, c, logger); err != nil {
		logger.Fatal().Err(err).Msg("invalidate catalog cache")
	}
	if err := seedPricingRules(ctx, pool, c, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed rules")
	}
	logger.Info().Msg("seeding completed")
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for _, t := range terms {
		var parent *int64
		if t.ParentID != 0 {
			parent = &t.ParentID
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO catalog_terms (id, taxonomy, slug, name, parent_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET taxonomy = EXCLUDED.taxonomy, slug = EXCLUDED.slug,
				name = EXCLUDED.name, parent_id = EXCLUDED.parent_id`,
			t.ID, t.Taxonomy, t.Slug, t.Name, parent); err != nil {
			return fmt.Errorf("term %d: %w", t.ID, err)
		}
	}
	logger.Info().Int("count", len(terms)).Msg("terms seeded")

	for _, p := range products {
		attrs, err := json.Marshal(p.Attributes)
		if err != nil {
			return err
		}
		if p.Attributes == nil {
			attrs = []byte("[]")
		}
		var parent *int64
		if p.ParentID != 0 {
			parent = &p.ParentID
		}
		var sale *string
		if p.Sale != "" {
			sale = &p.Sale
		}
		categories, tags := p.Categories, p.Tags
		if categories == nil {
			categories = []int64{}
		}
		if tags == nil {
			tags = []int64{}
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO catalog_products (id, parent_id, type, name, regular_price, sale_price,
				category_ids, tag_ids, attributes, menu_order)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, type = EXCLUDED.type,
				name = EXCLUDED.name, regular_price = EXCLUDED.regular_price, sale_price = EXCLUDED.sale_price,
				category_ids = EXCLUDED.category_ids, tag_ids = EXCLUDED.tag_ids,
				attributes = EXCLUDED.attributes, menu_order = EXCLUDED.menu_order`,
			p.ID, parent, string(p.Type), p.Name, p.Regular, sale, categories, tags, attrs, p.MenuOrder); err != nil {
			return fmt.Errorf("product %d: %w", p.ID, err)
		}
	}
	logger.Info().Int("count", len(products)).Msg("products seeded")
	return nil
}

// invalidateCatalog drops cached copies of the upserted rows so quotes see
// the seeded prices before the cache TTL runs out.
func invalidateCatalog(ctx context.Context, pool *pgxpool.Pool, c *cache.Cache, logger zerolog.Logger) error {
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: catalog.PGStore{DB: pool}, Cache: c, Logger: logger})
	if err != nil {
		return err
	}
	productIDs := make([]int64, 0, len(products))
	for _, p := range products {
		productIDs = append(productIDs, p.ID)
	}
	termIDs := make([]int64, 0, len(terms))
	for _, t := range terms {
		termIDs = append(termIDs, t.ID)
	}
	return svc.Invalidate(ctx, productIDs, termIDs)
}

func seedPricingRules(ctx context.Context, pool *pgxpool.Pool, c *cache.Cache, logger zerolog.Logger) error {
	svc, err := rules.NewService(rules.ServiceConfig{Repository: &rules.PGRepository{DB: pool}, Cache: c, Logger: logger})
	if err != nil {
		return err
	}
	for _, def := range seedRules() {
		if _, err := svc.Create(ctx, def); err != nil {
			if errors.Is(err, rules.ErrDuplicate) {
				if _, err := svc.Update(ctx, def); err != nil {
					return fmt.Errorf("rule %s: %w", def.ID, err)
				}
				continue
			}
			return fmt.Errorf("rule %s: %w", def.ID, err)
		}
	}
	logger.Info().Int("count", len(seedRules())).Msg("rules seeded")
	return nil
}

func printToken(subject string) error {
	v, err := auth.NewVerifier(auth.Config{
		Secret:   os.Getenv("ADMIN_JWT_SECRET"),
		Issuer:   envOrDefault("ADMIN_JWT_ISSUER", "toko-pricing"),
		Audience: envOrDefault("ADMIN_JWT_AUDIENCE", "toko-pricing-admin"),
	})
	if err != nil {
		return err
	}
	token, err := v.Issue(subject, []string{envOrDefault("ADMIN_JWT_ROLE", "pricing_admin")}, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
