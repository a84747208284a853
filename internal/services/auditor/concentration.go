package auditor

import (
	"sort"

	"github.com/klyrlabs/blindspot/internal/models"
)

// evaluateRules checks every exposure bucket against the configured rules.
// A bucket breaches a rule only when its observed share strictly exceeds the
// threshold: exactly at threshold never alerts. When several rules target the
// same (dimension, bucket) — e.g. a warning and a critical tier — only the
// highest breached threshold emits, so one over-concentrated bucket yields
// one alert.
//
// Alerts are ordered by descending observed-minus-threshold, ties broken by
// bucket key ascending.
func evaluateRules(buckets []models.ExposureBucket, rules []models.ConcentrationRule) []models.ConcentrationAlert {
	type alertKey struct {
		dimension models.Dimension
		bucket    string
	}
	best := make(map[alertKey]models.ConcentrationAlert)

	for _, rule := range rules {
		for _, bucket := range buckets {
			if bucket.Key.Dimension != rule.Dimension {
				continue
			}
			if rule.Bucket != models.RuleAnyBucket && bucket.Key.Value != rule.Bucket {
				continue
			}
			if rule.Bucket == models.RuleAnyBucket && excluded(rule.Exclude, bucket.Key.Value) {
				continue
			}
			if !bucket.Percent.GreaterThan(rule.Threshold) {
				continue
			}

			key := alertKey{dimension: bucket.Key.Dimension, bucket: bucket.Key.Value}
			current, ok := best[key]
			if ok && !rule.Threshold.GreaterThan(current.Threshold) {
				continue
			}
			best[key] = models.ConcentrationAlert{
				RuleID:    rule.ID,
				Dimension: bucket.Key.Dimension,
				Bucket:    bucket.Key.Value,
				Observed:  bucket.Percent,
				Threshold: rule.Threshold,
				Severity:  rule.Severity,
			}
		}
	}

	alerts := make([]models.ConcentrationAlert, 0, len(best))
	for _, alert := range best {
		alerts = append(alerts, alert)
	}

	sort.Slice(alerts, func(i, j int) bool {
		bi := alerts[i].Observed.Sub(alerts[i].Threshold)
		bj := alerts[j].Observed.Sub(alerts[j].Threshold)
		if !bi.Equal(bj) {
			return bi.GreaterThan(bj)
		}
		ki := models.BucketKey{Dimension: alerts[i].Dimension, Value: alerts[i].Bucket}
		kj := models.BucketKey{Dimension: alerts[j].Dimension, Value: alerts[j].Bucket}
		return ki.Less(kj)
	})
	return alerts
}

func excluded(exclude []string, value string) bool {
	for _, v := range exclude {
		if v == value {
			return true
		}
	}
	return false
}
