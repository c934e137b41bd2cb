package rules

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Service manages rule definitions and serves the active set.
type Service struct {
	repo   Repository
	cache  *cache.Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repository Repository
	Cache      *cache.Cache
	Logger     zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("rules: repository is required")
	}
	return &Service{repo: cfg.Repository, cache: cfg.Cache, logger: cfg.Logger}, nil
}

// Active returns the active definitions, cached in Redis when configured.
func (s *Service) Active(ctx context.Context) ([]Definition, error) {
	var cached []Definition
	if ok, err := s.cache.GetJSON(ctx, cache.KeyActiveRules, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("rules cache read failed")
	}
	defs, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, cache.KeyActiveRules, defs); err != nil {
		s.logger.Warn().Err(err).Msg("rules cache write failed")
	}
	return defs, nil
}

// ActiveRules builds engine rules from the active set. Definitions that no
// longer build are skipped and logged.
func (s *Service) ActiveRules(ctx context.Context) ([]pricing.Rule, []Definition, error) {
	defs, err := s.Active(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]pricing.Rule, 0, len(defs))
	kept := make([]Definition, 0, len(defs))
	for _, def := range defs {
		r, err := pricing.NewRule(def.RuleConfig)
		if err != nil {
			s.logger.Error().Err(err).Str("rule_id", def.ID).Msg("skipping unusable rule")
			continue
		}
		out = append(out, r)
		kept = append(kept, def)
	}
	return out, kept, nil
}

// List returns every stored definition.
func (s *Service) List(ctx context.Context) ([]Definition, error) {
	return s.repo.List(ctx, false)
}

// Get returns one definition.
func (s *Service) Get(ctx context.Context, id string) (Definition, error) {
	return s.repo.Get(ctx, strings.TrimSpace(id))
}

// Create validates and stores a new definition.
func (s *Service) Create(ctx context.Context, def Definition) (Definition, error) {
	def = normalize(def)
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	out, err := s.repo.Create(ctx, def)
	if err != nil {
		return Definition{}, err
	}
	s.invalidate(ctx)
	return out, nil
}

// Update validates and replaces a stored definition.
func (s *Service) Update(ctx context.Context, def Definition) (Definition, error) {
	def = normalize(def)
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	out, err := s.repo.Update(ctx, def)
	if err != nil {
		return Definition{}, err
	}
	s.invalidate(ctx)
	return out, nil
}

// Names maps rule ids to their names. Unknown ids are absent.
func (s *Service) Names(ctx context.Context, ids []string) (map[string]string, error) {
	defs, err := s.repo.List(ctx, false)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make(map[string]string, len(ids))
	for _, def := range defs {
		if _, ok := wanted[def.ID]; ok {
			out[def.ID] = def.Name
		}
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.KeyActiveRules); err != nil {
		s.logger.Warn().Err(err).Msg("rules cache invalidation failed")
	}
}

func normalize(def Definition) Definition {
	def.ID = strings.TrimSpace(def.ID)
	def.Name = strings.TrimSpace(def.Name)
	def.Type = strings.TrimSpace(def.Type)
	if def.MatchType == "" {
		def.MatchType = pricing.MatchAny
	}
	if def.Conditions.MatchType == "" {
		def.Conditions.MatchType = pricing.MatchAll
	}
	return def
}
