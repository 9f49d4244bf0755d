// Package cache defines the tier table and key derivation shared by every
// tiered cache backend.
package cache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

// TierSpec is the data-driven configuration for one cache tier.
type TierSpec struct {
	Name   roast.Tier
	TTL    time.Duration
	Prefix string
}

// Tiers maps each tier to its fixed TTL and key prefix. Every backend
// resolves tier semantics through this table rather than branching per tier.
var Tiers = map[roast.Tier]TierSpec{
	roast.TierHot:  {Name: roast.TierHot, TTL: 300 * time.Second, Prefix: "hot:"},
	roast.TierWarm: {Name: roast.TierWarm, TTL: 3600 * time.Second, Prefix: "warm:"},
	roast.TierCold: {Name: roast.TierCold, TTL: 86400 * time.Second, Prefix: "cold:"},
}

// Spec resolves a tier, falling back to WARM for unknown values.
func Spec(tier roast.Tier) TierSpec {
	if spec, ok := Tiers[tier]; ok {
		return spec
	}
	return Tiers[roast.TierWarm]
}

// Key derives a deterministic, collision-resistant cache key from a
// normalized URL and an options map. encoding/json writes map keys in
// sorted order, so equal maps always hash identically.
func Key(hasher roast.Hasher, rawURL string, options map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url for cache key: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(u.String())
	if len(options) > 0 {
		encoded, err := json.Marshal(options)
		if err != nil {
			return "", fmt.Errorf("marshal cache key options: %w", err)
		}
		sb.Write(encoded)
	}

	digest, err := hasher.Hash([]byte(sb.String()))
	if err != nil {
		return "", fmt.Errorf("hash cache key: %w", err)
	}
	return "roast:" + digest, nil
}
