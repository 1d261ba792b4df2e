package ranking

import (
	"context"
	"fmt"
)

// Cache stores serialized leaderboard views. A key groups every variant of
// one view (field), so invalidating the key drops them all.
type Cache interface {
	Get(ctx context.Context, key, field string) ([]byte, bool, error)
	Set(ctx context.Context, key, field string, payload []byte) error
	Invalidate(ctx context.Context, keys ...string) error
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string, string) ([]byte, bool, error) { return nil, false, nil }
func (NopCache) Set(context.Context, string, string, []byte) error          { return nil }
func (NopCache) Invalidate(context.Context, ...string) error                { return nil }

const keyPrefix = "leaderboard:"

func DistrictKey(districtID, period string) string {
	return fmt.Sprintf("%sdistrict:%s:%s", keyPrefix, districtID, period)
}

func CandidatesKey(period string) string {
	return fmt.Sprintf("%scandidates:%s", keyPrefix, period)
}

func NationalKey() string {
	return keyPrefix + "national"
}
