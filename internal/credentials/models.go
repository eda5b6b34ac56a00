package credentials

import "time"

// Tier is one of the two backend credential classes the application
// authenticates with.
type Tier string

const (
	// TierPublic is the limited-scope credential used by ordinary request
	// paths.
	TierPublic Tier = "public"
	// TierPrivileged is the full-access credential. Optional outside
	// administrative deployments.
	TierPrivileged Tier = "privileged"
)

// Tiers lists all known tiers in a stable order.
func Tiers() []Tier { return []Tier{TierPublic, TierPrivileged} }

// Metadata tracks the lifecycle of one tier's credential. Exactly one
// record per tier exists at a time; records are superseded by rotation,
// never deleted. Valid is recomputed by periodic validation and never
// trusted stale past the validation interval.
type Metadata struct {
	Tier            Tier
	MaterialID      string
	Material        string
	IssuedAt        time.Time
	LastRotatedAt   time.Time
	LastValidatedAt time.Time
	ExpiresAt       time.Time
	Valid           bool
}

// Expired reports whether the credential is past its expiry, if one is set.
func (m Metadata) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// Age is the time since the material was last rotated (or issued).
func (m Metadata) Age(now time.Time) time.Duration {
	return now.Sub(m.LastRotatedAt)
}

// Client is the cached per-tier handle consumers use to reach the backing
// service. One instance exists per tier per credential generation; rotation
// swaps in a new one atomically.
type Client struct {
	tier     Tier
	material string
	backend  Backend
}

func (c *Client) Tier() Tier { return c.tier }

// Material exposes the credential for request signing by the transport
// layer.
func (c *Client) Material() string { return c.material }

// Backend returns the backing service this handle authenticates against.
func (c *Client) Backend() Backend { return c.backend }
