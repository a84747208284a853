// Package holdingsfile is a file-backed holdings provider. A single JSON
// document holds one or more portfolios; it stands in for a brokerage
// aggregation feed in local and test deployments.
package holdingsfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klyrlabs/blindspot/internal/common"
	"github.com/klyrlabs/blindspot/internal/models"
)

// Provider implements interfaces.HoldingsProvider over a JSON file
type Provider struct {
	path   string
	logger *common.Logger
}

// NewProvider creates a provider reading from the given file path
func NewProvider(path string, logger *common.Logger) *Provider {
	return &Provider{path: path, logger: logger}
}

// document is the on-disk shape: either a single portfolio object or a list
// under "portfolios".
type document struct {
	Portfolios []models.Portfolio `json:"portfolios"`
}

// GetPortfolio reads the holdings file and returns the requested portfolio.
// The file is re-read on every call so edits take effect without a restart.
func (p *Provider) GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holdings file '%s': %w", p.path, err)
	}

	portfolios, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse holdings file '%s': %w", p.path, err)
	}

	for i := range portfolios {
		if portfolios[i].ID == portfolioID {
			portfolio := portfolios[i]
			if err := validate(&portfolio); err != nil {
				return nil, fmt.Errorf("portfolio '%s': %w", portfolioID, err)
			}
			p.logger.Debug().
				Str("portfolio", portfolioID).
				Int("holdings", len(portfolio.Holdings)).
				Int("liabilities", len(portfolio.Liabilities)).
				Msg("Loaded portfolio from file")
			return &portfolio, nil
		}
	}

	return nil, fmt.Errorf("portfolio '%s' not found in %s", portfolioID, p.path)
}

func parse(data []byte) ([]models.Portfolio, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err == nil && len(doc.Portfolios) > 0 {
		return doc.Portfolios, nil
	}

	var single models.Portfolio
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	if single.ID == "" {
		return nil, fmt.Errorf("no portfolios found")
	}
	return []models.Portfolio{single}, nil
}

func validate(portfolio *models.Portfolio) error {
	if portfolio.Currency == "" {
		return fmt.Errorf("missing currency")
	}
	seen := make(map[string]bool)
	for _, h := range portfolio.Holdings {
		if h.ID == "" {
			return fmt.Errorf("holding with empty id")
		}
		if seen[h.ID] {
			return fmt.Errorf("duplicate holding id '%s'", h.ID)
		}
		seen[h.ID] = true
		if h.MarketValue.Currency != "" && h.MarketValue.Currency != portfolio.Currency {
			return fmt.Errorf("holding '%s': currency %s does not match portfolio currency %s",
				h.ID, h.MarketValue.Currency, portfolio.Currency)
		}
	}
	for _, l := range portfolio.Liabilities {
		if l.Balance.Currency != "" && l.Balance.Currency != portfolio.Currency {
			return fmt.Errorf("liability '%s': currency %s does not match portfolio currency %s",
				l.ID, l.Balance.Currency, portfolio.Currency)
		}
	}
	return nil
}
