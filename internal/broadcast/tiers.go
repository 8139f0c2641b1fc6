// Package broadcast fans hot-pool deltas out to subscribers in three
// contractually distinct tiers.
package broadcast

import (
	"time"

	"wallradar/internal/domain"
)

// Tier is a subscriber access level.
type Tier string

const (
	// TierPrivate sees full records with no delay and no filter.
	TierPrivate Tier = "private"
	// TierVIP sees full records minus internal-only fields, no delay.
	TierVIP Tier = "vip"
	// TierPublic sees only diamond walls, minimally projected and delayed.
	TierPublic Tier = "public"
)

// PublicDisclaimer rides on every public frame.
const PublicDisclaimer = "delayed data, informational only"

// Frame is the wire envelope for hot pool updates.
type Frame struct {
	Type        domain.DeltaType `json:"type"`
	Timestamp   time.Time        `json:"timestamp"`
	Data        interface{}      `json:"data"`
	AccessLevel Tier             `json:"access_level"`
	Disclaimer  string           `json:"disclaimer,omitempty"`
}

// Welcome is sent once on connect.
type Welcome struct {
	Type        string `json:"type"`
	AccessLevel Tier   `json:"access_level"`
	RateLimit   int    `json:"rate_limit"`
	DataDelayMS int    `json:"data_delay_ms"`
}

// ResolveTier maps a connection token onto an access level. Anything not
// matching the private token or a VIP token is public.
func ResolveTier(token, privateToken string, vipTokens []string) Tier {
	if token != "" && privateToken != "" && token == privateToken {
		return TierPrivate
	}
	for _, t := range vipTokens {
		if token != "" && token == t {
			return TierVIP
		}
	}
	return TierPublic
}

// frameFor builds the tier-specific view of a delta, or nil when the tier
// must not see it.
func frameFor(tier Tier, delta domain.BroadcastDelta) *Frame {
	switch tier {
	case TierPrivate:
		return &Frame{
			Type:        delta.Type,
			Timestamp:   delta.Timestamp,
			Data:        delta.Order,
			AccessLevel: TierPrivate,
		}
	case TierVIP:
		return &Frame{
			Type:        delta.Type,
			Timestamp:   delta.Timestamp,
			Data:        delta.Order.StripInternal(),
			AccessLevel: TierVIP,
		}
	case TierPublic:
		if delta.Order.Category != domain.CategoryDiamond {
			return nil
		}
		return &Frame{
			Type:        delta.Type,
			Timestamp:   delta.Timestamp,
			Data:        delta.Order.PublicProjection(),
			AccessLevel: TierPublic,
			Disclaimer:  PublicDisclaimer,
		}
	default:
		return nil
	}
}
