package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/muandane/special-stack/storefront/internal/kv"
)

// Analyzer thresholds.
const (
	MaxSearchEntries   = 1000
	MaxProductEntries  = 5000
	MaxBannerEntries   = 50
	MaxTotalEntries    = 10000
	MinAverageTTL      = 60 * time.Second
	MaxNoExpiryEntries = 100
)

// AnalyzedKinds are the buckets reported by the Analyzer. Keys of any other
// kind are counted under KindOther.
var AnalyzedKinds = []Kind{KindProduct, KindCategory, KindBanner, KindSearch, KindOther}

type KindReport struct {
	Count int `json:"count"`
	// AverageTTL covers keys with an expiry only.
	AverageTTL time.Duration `json:"average_ttl"`
	NoExpiry   int           `json:"no_expiry"`

	ttlSum   time.Duration
	ttlCount int
}

type Analysis struct {
	TotalKeys   int                `json:"total_keys"`
	Kinds       map[Kind]KindReport `json:"kinds"`
	Suggestions []string           `json:"suggestions"`
}

// Analyzer buckets the cache key space by kind and suggests tuning.
type Analyzer struct {
	store kv.Store
}

func NewAnalyzer(store kv.Store) *Analyzer {
	return &Analyzer{store: store}
}

func bucketOf(kind Kind) Kind {
	switch kind {
	case KindProduct, KindCategory, KindBanner, KindSearch:
		return kind
	}
	return KindOther
}

func (a *Analyzer) Analyze(ctx context.Context) (Analysis, error) {
	keys, err := a.store.Keys(ctx, KeyRoot+":*")
	if err != nil {
		return Analysis{}, errors.Wrap(err, "scan cache keys")
	}

	kinds := make(map[Kind]*KindReport, len(AnalyzedKinds))
	for _, k := range AnalyzedKinds {
		kinds[k] = &KindReport{}
	}
	for _, key := range keys {
		ks := kinds[bucketOf(KindOf(key))]
		ttl, err := a.store.TTL(ctx, key)
		if err != nil {
			return Analysis{}, errors.Wrapf(err, "ttl %s", key)
		}
		switch {
		case ttl == kv.Missing:
			continue
		case ttl == kv.NoExpiry:
			ks.NoExpiry++
		default:
			ks.ttlSum += ttl
			ks.ttlCount++
		}
		ks.Count++
	}

	analysis := Analysis{Kinds: make(map[Kind]KindReport, len(kinds))}
	for kind, ks := range kinds {
		if ks.ttlCount > 0 {
			ks.AverageTTL = ks.ttlSum / time.Duration(ks.ttlCount)
		}
		analysis.TotalKeys += ks.Count
		analysis.Kinds[kind] = *ks
	}
	analysis.Suggestions = suggest(analysis)
	return analysis, nil
}

func suggest(a Analysis) []string {
	out := []string{}
	if n := a.Kinds[KindSearch].Count; n > MaxSearchEntries {
		out = append(out, fmt.Sprintf("%d search entries cached: aggregate search results or shorten the search TTL", n))
	}
	if n := a.Kinds[KindProduct].Count; n > MaxProductEntries {
		out = append(out, fmt.Sprintf("%d product entries cached: cache paginated listings instead of individual products", n))
	}
	if n := a.Kinds[KindBanner].Count; n > MaxBannerEntries {
		out = append(out, fmt.Sprintf("%d banner entries cached: banners change rarely, cache them as one aggregate", n))
	}
	for _, kind := range []Kind{KindProduct, KindCategory} {
		ks := a.Kinds[kind]
		if ks.ttlCount > 0 && ks.AverageTTL < MinAverageTTL {
			out = append(out, fmt.Sprintf("%s entries expire after %s on average: raise their TTL", kind, ks.AverageTTL.Round(time.Second)))
		}
	}
	noExpiry := 0
	for _, ks := range a.Kinds {
		noExpiry += ks.NoExpiry
	}
	if noExpiry > MaxNoExpiryEntries {
		out = append(out, fmt.Sprintf("%d entries never expire: set a TTL so stale data ages out", noExpiry))
	}
	if a.TotalKeys > MaxTotalEntries {
		out = append(out, fmt.Sprintf("%d cache entries in total: review eviction policy and memory limits", a.TotalKeys))
	}
	return out
}
