// Package georisk classifies inbound request origins by geography and
// network ownership. It is an optional hardening layer in front of the real
// authorization boundary, which is why lookup failures allow rather than
// block.
package georisk

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"vigil/internal/events"
	"vigil/internal/platform/config"
	"vigil/internal/platform/metrics"
	dErrors "vigil/pkg/domain-errors"
)

// Lookup resolves an IP to its country and owning network. Backed by the
// MaxMind databases in production; faked in tests.
type Lookup interface {
	Country(ip net.IP) (isoCode string, err error)
	ASNOrg(ip net.IP) (org string, err error)
}

// EventRecorder is the slice of the event log the classifier needs.
type EventRecorder interface {
	Record(ctx context.Context, category events.Category, action string, outcome events.Outcome, detail events.Detail)
}

// Decision is computed per request and never persisted.
type Decision struct {
	IP          string
	Country     string
	ASNOrg      string
	ProxyLikely bool
	Blocked     bool
	Reason      string
}

// hostingKeywords flags ASN organizations that are overwhelmingly datacenter,
// VPN, or proxy operators rather than residential ISPs.
var hostingKeywords = []string{
	"hosting", "datacenter", "data center", "cloud", "vpn", "proxy",
	"server", "colocation", "digital ocean", "digitalocean", "ovh",
	"hetzner", "linode", "vultr", "amazon", "google cloud", "azure",
}

type Classifier struct {
	lookup   Lookup
	blocked  map[string]struct{}
	blockPxy bool
	recorder EventRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Classifier)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

func New(lookup Lookup, cfg config.GeoConfig, recorder EventRecorder, opts ...Option) *Classifier {
	c := &Classifier{
		lookup:   lookup,
		blocked:  make(map[string]struct{}, len(cfg.BlockedCountries)),
		blockPxy: cfg.BlockProxies,
		recorder: recorder,
		logger:   slog.Default(),
	}
	for _, country := range cfg.BlockedCountries {
		c.blocked[strings.ToUpper(strings.TrimSpace(country))] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify resolves the request origin and applies the block policy. Lookup
// failures allow the request: the database is an optional hardening layer,
// and unavailability must not turn into an outage.
func (c *Classifier) Classify(ctx context.Context, ipAddr string) (Decision, error) {
	ip := net.ParseIP(ipAddr)
	if ip == nil {
		return Decision{}, dErrors.New(dErrors.CodeInvalidInput, "invalid ip address")
	}

	decision := Decision{IP: ipAddr}

	country, err := c.lookup.Country(ip)
	if err != nil {
		return c.failOpen(ctx, decision, err), nil
	}
	decision.Country = country

	org, err := c.lookup.ASNOrg(ip)
	if err != nil {
		return c.failOpen(ctx, decision, err), nil
	}
	decision.ASNOrg = org
	decision.ProxyLikely = proxyLikely(org)

	if _, blocked := c.blocked[country]; blocked {
		decision.Blocked = true
		decision.Reason = "country blocked by policy"
	} else if c.blockPxy && decision.ProxyLikely {
		decision.Blocked = true
		decision.Reason = "proxy or hosting network blocked by policy"
	}

	c.recordDecision(ctx, decision)
	return decision, nil
}

func (c *Classifier) failOpen(ctx context.Context, decision Decision, err error) Decision {
	decision.Blocked = false
	decision.Reason = "lookup failed, allowing"
	c.logger.Warn("geo lookup failed, allowing request", "ip", decision.IP, "error", err)
	c.recorder.Record(ctx, events.CategoryGeo, events.ActionGeoLookupFailed, events.OutcomeFailure,
		events.GeoDetail{IP: decision.IP, Reason: err.Error()})
	c.count("allowed_lookup_failed")
	return decision
}

func (c *Classifier) recordDecision(ctx context.Context, d Decision) {
	outcome := events.OutcomeSuccess
	result := "allowed"
	if d.Blocked {
		outcome = events.OutcomeFailure
		result = "blocked"
	}
	c.recorder.Record(ctx, events.CategoryGeo, events.ActionGeoDecision, outcome,
		events.GeoDetail{IP: d.IP, Country: d.Country, Reason: d.Reason})
	c.logger.Debug("geo decision",
		"ip", d.IP, "country", d.Country, "asn_org", d.ASNOrg,
		"proxy_likely", d.ProxyLikely, "blocked", d.Blocked)
	c.count(result)
}

func (c *Classifier) count(result string) {
	if c.metrics != nil {
		c.metrics.GeoDecisions.WithLabelValues(result).Inc()
	}
}

func proxyLikely(org string) bool {
	lower := strings.ToLower(org)
	for _, kw := range hostingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
