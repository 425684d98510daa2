package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"strategy-core/pkg/db"
)

// PortfolioSeed is a portfolio entry in the seed file.
type PortfolioSeed struct {
	ID             string  `yaml:"id"`
	OwnerID        string  `yaml:"owner_id"`
	Name           string  `yaml:"name"`
	InitialBalance float64 `yaml:"initial_balance"`
	Currency       string  `yaml:"currency"`
	PaperTrading   *bool   `yaml:"paper_trading"`
}

// StrategySeed is a strategy entry in the seed file.
type StrategySeed struct {
	ID          string         `yaml:"id"`
	OwnerID     string         `yaml:"owner_id"`
	PortfolioID string         `yaml:"portfolio_id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Type        string         `yaml:"type"`
	AssetClass  string         `yaml:"asset_class"`
	Symbols     []string       `yaml:"symbols"`
	Parameters  map[string]any `yaml:"parameters"`
}

// SeedFile is the top-level YAML structure.
type SeedFile struct {
	Portfolios []PortfolioSeed `yaml:"portfolios"`
	Strategies []StrategySeed  `yaml:"strategies"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &file, nil
}

// ApplySeed validates every strategy against ev and upserts portfolios and
// strategies in one transaction. Existing balances and activation flags are
// left alone, so re-applying a seed is harmless.
func ApplySeed(ctx context.Context, database *db.Database, ev *Evaluator, seed *SeedFile) error {
	strategies := make([]db.Strategy, 0, len(seed.Strategies))
	for _, s := range seed.Strategies {
		if s.ID == "" || s.OwnerID == "" || s.PortfolioID == "" {
			return fmt.Errorf("seed strategy %q: id, owner_id and portfolio_id are required", s.Name)
		}
		params, err := json.Marshal(s.Parameters)
		if err != nil {
			return fmt.Errorf("seed strategy %s: marshal parameters: %w", s.ID, err)
		}
		if s.Parameters == nil {
			params = []byte("{}")
		}
		if _, err := ev.Resolve(s.Type, params, s.Symbols); err != nil {
			return fmt.Errorf("seed strategy %s: %w", s.ID, err)
		}
		strategies = append(strategies, db.Strategy{
			ID:          s.ID,
			OwnerID:     s.OwnerID,
			PortfolioID: s.PortfolioID,
			Name:        s.Name,
			Description: s.Description,
			Type:        s.Type,
			AssetClass:  s.AssetClass,
			Symbols:     s.Symbols,
			Parameters:  params,
		})
	}

	return database.WithTx(ctx, func(q *db.Queries) error {
		for _, p := range seed.Portfolios {
			if p.ID == "" || p.OwnerID == "" {
				return fmt.Errorf("seed portfolio %q: id and owner_id are required", p.Name)
			}
			balance := decimal.NewFromFloat(p.InitialBalance)
			paper := true
			if p.PaperTrading != nil {
				paper = *p.PaperTrading
			}
			if err := q.UpsertPortfolio(ctx, db.Portfolio{
				ID:             p.ID,
				OwnerID:        p.OwnerID,
				Name:           p.Name,
				InitialBalance: balance,
				CurrentBalance: balance,
				Currency:       p.Currency,
				PaperTrading:   paper,
			}); err != nil {
				return err
			}
		}
		for _, s := range strategies {
			if err := q.UpsertStrategy(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
}
