package ingest

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/KenjiPcx/magneto/internal/analytics"
)

// Enricher derives device class and geo location server-side so the
// client payload stays minimal.
type Enricher struct {
	geoIP *geoip2.Reader
}

// NewEnricher loads the GeoIP database when a path is configured. A
// missing or unreadable database disables geo enrichment rather than
// failing ingestion.
func NewEnricher(geoIPPath string) *Enricher {
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		geoIP, _ = geoip2.Open(geoIPPath)
	}
	return &Enricher{geoIP: geoIP}
}

// Enrichment is the server-derived session attributes.
type Enrichment struct {
	DeviceType string
	Country    string
	City       string
}

// Enrich classifies the device and, when GeoIP is available, resolves
// the client IP to country and city.
func (e *Enricher) Enrich(userAgent string, viewportWidth int, clientIP string) Enrichment {
	out := Enrichment{
		DeviceType: analytics.ClassifyDevice(userAgent, viewportWidth),
	}

	if e.geoIP != nil && clientIP != "" {
		if ip := net.ParseIP(clientIP); ip != nil {
			if record, err := e.geoIP.City(ip); err == nil {
				out.Country = record.Country.IsoCode
				if name, ok := record.City.Names["en"]; ok {
					out.City = name
				}
			}
		}
	}
	return out
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		e.geoIP.Close()
	}
}
