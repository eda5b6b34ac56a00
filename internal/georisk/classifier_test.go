package georisk

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/events"
	"vigil/internal/platform/config"
	dErrors "vigil/pkg/domain-errors"
)

type fakeLookup struct {
	countries map[string]string
	orgs      map[string]string
	fail      bool
}

func (l *fakeLookup) Country(ip net.IP) (string, error) {
	if l.fail {
		return "", errors.New("database unavailable")
	}
	return l.countries[ip.String()], nil
}

func (l *fakeLookup) ASNOrg(ip net.IP) (string, error) {
	if l.fail {
		return "", errors.New("database unavailable")
	}
	return l.orgs[ip.String()], nil
}

type fakeRecorder struct {
	actions []string
}

func (r *fakeRecorder) Record(_ context.Context, _ events.Category, action string, _ events.Outcome, _ events.Detail) {
	r.actions = append(r.actions, action)
}

func newTestClassifier(blockProxies bool) (*Classifier, *fakeLookup, *fakeRecorder) {
	lookup := &fakeLookup{
		countries: map[string]string{
			"203.0.113.10": "DE",
			"203.0.113.20": "KP",
			"203.0.113.30": "US",
		},
		orgs: map[string]string{
			"203.0.113.10": "Deutsche Telekom AG",
			"203.0.113.20": "Star JV",
			"203.0.113.30": "DigitalOcean LLC",
		},
	}
	rec := &fakeRecorder{}
	cfg := config.GeoConfig{
		BlockedCountries: []string{"kp", " RU "},
		BlockProxies:     blockProxies,
	}
	return New(lookup, cfg, rec), lookup, rec
}

func TestClassifyAllowsResidentialIP(t *testing.T) {
	c, _, rec := newTestClassifier(true)

	d, err := c.Classify(context.Background(), "203.0.113.10")
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.False(t, d.ProxyLikely)
	assert.Equal(t, "DE", d.Country)
	assert.Equal(t, []string{events.ActionGeoDecision}, rec.actions)
}

func TestClassifyBlocksListedCountry(t *testing.T) {
	c, _, _ := newTestClassifier(false)

	d, err := c.Classify(context.Background(), "203.0.113.20")
	require.NoError(t, err)
	assert.True(t, d.Blocked)
	assert.Equal(t, "country blocked by policy", d.Reason)
}

func TestClassifyProxyPolicy(t *testing.T) {
	// Hosting ASN is flagged either way; blocking depends on policy.
	c, _, _ := newTestClassifier(false)
	d, err := c.Classify(context.Background(), "203.0.113.30")
	require.NoError(t, err)
	assert.True(t, d.ProxyLikely)
	assert.False(t, d.Blocked)

	c, _, _ = newTestClassifier(true)
	d, err = c.Classify(context.Background(), "203.0.113.30")
	require.NoError(t, err)
	assert.True(t, d.Blocked)
	assert.Equal(t, "proxy or hosting network blocked by policy", d.Reason)
}

func TestClassifyFailsOpenOnLookupError(t *testing.T) {
	c, lookup, rec := newTestClassifier(true)
	lookup.fail = true

	d, err := c.Classify(context.Background(), "203.0.113.20")
	require.NoError(t, err)
	assert.False(t, d.Blocked, "lookup failure must allow, even for a listed country")
	assert.Equal(t, []string{events.ActionGeoLookupFailed}, rec.actions)
}

func TestClassifyRejectsMalformedIP(t *testing.T) {
	c, _, _ := newTestClassifier(false)

	_, err := c.Classify(context.Background(), "not-an-ip")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
