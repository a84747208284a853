package auditor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/klyrlabs/blindspot/internal/interfaces"
	"github.com/klyrlabs/blindspot/internal/models"
)

// buildReturns computes simple daily returns keyed by the trading date of
// the later point. Gaps wider than maxGapDays calendar days break the series:
// no return is computed across the gap, so stale or missing stretches cannot
// manufacture artificial correlation.
func buildReturns(points []models.PricePoint, maxGapDays int) map[string]float64 {
	returns := make(map[string]float64)
	for i := 1; i < len(points); i++ {
		p0, p1 := points[i-1], points[i]
		if p0.Close.Cents == 0 {
			continue
		}
		gap := p1.Date.Sub(p0.Date).Hours() / 24
		if gap > float64(maxGapDays) {
			continue // series break
		}
		date := p1.Date.UTC().Format("2006-01-02")
		returns[date] = float64(p1.Close.Cents-p0.Close.Cents) / float64(p0.Close.Cents)
	}
	return returns
}

// overlap inner-joins two return series on date, never on index position.
func overlap(a, b map[string]float64) (x, y []float64) {
	dates := make([]string, 0, len(a))
	for date := range a {
		if _, ok := b[date]; ok {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	x = make([]float64, len(dates))
	y = make([]float64, len(dates))
	for i, date := range dates {
		x[i] = a[date]
		y[i] = b[date]
	}
	return x, y
}

// pearson computes the Pearson correlation coefficient via a numerically
// stable two-pass formulation. The second return is false when either series
// has zero variance (the coefficient is undefined there).
func pearson(x, y []float64) (float64, bool) {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0, false
	}

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0, false
	}

	r := cov / math.Sqrt(varX*varY)
	// Guard against floating-point drift past the mathematical bounds.
	if r > 1 {
		r = 1
	}
	if r < -1 {
		r = -1
	}
	return r, true
}

// computeCorrelations builds the pairwise correlation matrix over the
// portfolio's holdings. Non-traded assets use their proxy's price series but
// stay keyed by their own identity. Symbols with fewer returns than the
// configured minimum are excluded; pairs with insufficient overlap are
// absent from the matrix, not zero. Pairs whose |r| reaches the twin
// threshold are additionally reported as hidden twins, each with a readable
// explanation built from the pair's portfolio weights (fractions of total
// assets, keyed by matrix key; a nil map reads as zero weight).
func computeCorrelations(ctx context.Context, market interfaces.MarketService, holdings []models.Holding, weights map[string]decimal.Decimal, cfg interfaces.RunConfig) (models.CorrelationMatrix, []models.HiddenTwin, []models.RunWarning) {
	matrix := make(models.CorrelationMatrix)
	var warnings []models.RunWarning

	series := make(map[string]map[string]float64)
	var keys []string

	for _, h := range holdings {
		key := h.MatrixKey()
		symbol := h.PriceSymbol()
		if symbol == "" {
			continue // no own history and no proxy: absent from the matrix
		}
		if _, ok := series[key]; ok {
			continue // same instrument held in several accounts
		}

		points, err := market.GetHistory(ctx, symbol, cfg.LookbackMonths)
		if err != nil || len(points) == 0 {
			warnings = append(warnings, models.RunWarning{
				Symbol:  key,
				Kind:    models.WarningDataUnavailable,
				Message: "no price history for correlation",
			})
			continue
		}

		returns := buildReturns(points, cfg.MaxGapDays)
		if len(returns) < cfg.MinOverlap {
			warnings = append(warnings, models.RunWarning{
				Symbol:  key,
				Kind:    models.WarningShortHistory,
				Message: "return series shorter than minimum overlap, excluded from correlation",
			})
			continue
		}

		series[key] = returns
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var twins []models.HiddenTwin
	for i, a := range keys {
		matrix.Set(a, a, 1.0)
		for _, b := range keys[i+1:] {
			x, y := overlap(series[a], series[b])
			if len(x) < cfg.MinOverlap {
				continue
			}
			r, ok := pearson(x, y)
			if !ok {
				continue
			}
			matrix.Set(a, b, r)

			if math.Abs(r) >= cfg.TwinThreshold {
				twins = append(twins, models.HiddenTwin{
					SymbolA:     a,
					SymbolB:     b,
					Correlation: r,
					Explanation: twinExplanation(a, b, r, weights[a].Add(weights[b])),
				})
			}
		}
	}

	sort.Slice(twins, func(i, j int) bool {
		ai, aj := math.Abs(twins[i].Correlation), math.Abs(twins[j].Correlation)
		if ai != aj {
			return ai > aj
		}
		if twins[i].SymbolA != twins[j].SymbolA {
			return twins[i].SymbolA < twins[j].SymbolA
		}
		return twins[i].SymbolB < twins[j].SymbolB
	})

	return matrix, twins, warnings
}

// twinExplanation renders a hidden-twin finding as a sentence a portfolio
// owner can act on. combined is the pair's share of total assets as a
// fraction.
func twinExplanation(a, b string, r float64, combined decimal.Decimal) string {
	direction := "positively"
	if r < 0 {
		direction = "negatively"
	}
	strength := "strongly"
	if math.Abs(r) >= 0.95 {
		strength = "very strongly"
	}
	pct := combined.Mul(decimal.NewFromInt(100))
	return fmt.Sprintf(
		"%s and %s are %s %s correlated (r=%.2f). Combined they represent %s%% of the portfolio and may not provide the diversification they appear to.",
		a, b, strength, direction, r, pct.StringFixed(1),
	)
}
