package auditor

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/klyrlabs/blindspot/internal/models"
)

// bucketShare is one holding's exact contribution to one exposure bucket.
type bucketShare struct {
	key    models.BucketKey
	amount models.Money
}

// decomposeHolding expands a holding's market value into bucket shares using
// largest-remainder allocation over the composition weights. Sector and
// geography are decomposed independently from the same value. A zero-value
// holding decomposes to nothing.
func decomposeHolding(value models.Money, comp *models.Composition) ([]bucketShare, error) {
	if value.IsZero() {
		return nil, nil
	}

	var shares []bucketShare
	for _, dim := range models.Dimensions {
		buckets := comp.DimensionWeights(dim) // bucket-key ascending, per Normalize
		if len(buckets) == 0 {
			continue
		}

		weights := make([]decimal.Decimal, len(buckets))
		for i, b := range buckets {
			weights[i] = b.Weight
		}

		parts, err := value.Allocate(weights)
		if err != nil {
			return nil, fmt.Errorf("decompose %s over %s: %w", comp.Symbol, dim, err)
		}

		for i, part := range parts {
			if part.IsZero() {
				continue
			}
			shares = append(shares, bucketShare{key: buckets[i].Key, amount: part})
		}
	}
	return shares, nil
}

// aggregateExposure sums shares per bucket across the whole portfolio and
// computes each bucket's share of total asset value (liabilities excluded
// from the denominator). Summation is order-independent; the result is
// sorted by bucket key.
func aggregateExposure(shares []bucketShare, totalAssets models.Money) ([]models.ExposureBucket, error) {
	sums := make(map[models.BucketKey]models.Money)
	for _, share := range shares {
		sum, err := sums[share.key].Add(share.amount)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", share.key, err)
		}
		sums[share.key] = sum
	}

	keys := make([]models.BucketKey, 0, len(sums))
	for key := range sums {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	total := decimal.NewFromInt(totalAssets.Cents)
	buckets := make([]models.ExposureBucket, 0, len(keys))
	for _, key := range keys {
		amount := sums[key]
		percent := decimal.Zero
		if !total.IsZero() {
			percent = decimal.NewFromInt(amount.Cents).Div(total)
		}
		buckets = append(buckets, models.ExposureBucket{
			Key:     key,
			Amount:  amount,
			Percent: percent,
		})
	}
	return buckets, nil
}
