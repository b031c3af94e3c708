package geoip

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Provider resolves server IPs to ISO country codes. Lookups are cached and safe for concurrent use.
type Provider struct {
	db     *geoip2.Reader
	lookup func(net.IP) (string, error)
	cache  sync.Map
}

// Open initializes the GeoIP database reader from a specific file path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		db: db,
		lookup: func(ip net.IP) (string, error) {
			record, err := db.Country(ip)
			if err != nil {
				return "", err
			}
			return record.Country.IsoCode, nil
		},
	}, nil
}

// Close closes the underlying GeoIP database reader.
func (p *Provider) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// GetCountryCode looks up the ISO country code (e.g., "US", "DE") for a given IP address string.
// It returns an empty string if the IP is invalid or the country cannot be determined.
func (p *Provider) GetCountryCode(ipStr string) string {
	if cc, ok := p.cache.Load(ipStr); ok {
		return cc.(string)
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}

	cc, err := p.lookup(ip)
	if err != nil {
		return ""
	}

	p.cache.Store(ipStr, cc)
	return cc
}
