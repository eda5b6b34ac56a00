package georisk

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	dErrors "vigil/pkg/domain-errors"
)

// MaxMindLookup resolves IPs against local MaxMind City and ASN databases.
type MaxMindLookup struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

func NewMaxMindLookup(cityDBPath, asnDBPath string) (*MaxMindLookup, error) {
	city, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open city database")
	}
	asn, err := geoip2.Open(asnDBPath)
	if err != nil {
		city.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open asn database")
	}
	return &MaxMindLookup{city: city, asn: asn}, nil
}

func (l *MaxMindLookup) Country(ip net.IP) (string, error) {
	record, err := l.city.City(ip)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

func (l *MaxMindLookup) ASNOrg(ip net.IP) (string, error) {
	record, err := l.asn.ASN(ip)
	if err != nil {
		return "", err
	}
	return record.AutonomousSystemOrganization, nil
}

func (l *MaxMindLookup) Close() {
	l.city.Close()
	l.asn.Close()
}
