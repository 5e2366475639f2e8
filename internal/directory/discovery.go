package directory

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// srvDiscovery resolves directory servers from DNS SRV records.
type srvDiscovery struct {
	resolver *net.Resolver
	log      zerolog.Logger
}

func newSRVDiscovery(log zerolog.Logger) *srvDiscovery {
	return &srvDiscovery{resolver: net.DefaultResolver, log: log}
}

// Discover finds directory servers for a domain. LDAPS records are preferred;
// plain LDAP (upgraded via StartTLS) is the fallback. When no SRV records
// exist the domain itself is used on the standard ports.
func (d *srvDiscovery) Discover(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	records := []struct {
		service string
		useTLS  bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
	}

	var servers []*ServerInfo
	for _, record := range records {
		found, err := d.lookupSRV(ctx, record.service, record.useTLS)
		if err != nil {
			d.log.Debug().Str("service", record.service).Err(err).Msg("SRV lookup failed")
			continue
		}
		servers = append(servers, found...)
		if record.useTLS && len(found) > 0 {
			break // prefer LDAPS when available
		}
	}

	if len(servers) == 0 {
		d.log.Debug().Str("domain", domain).Msg("no SRV records, using standard ports")
		return []*ServerInfo{
			{Host: domain, Port: 636, UseTLS: true, Source: "fallback"},
			{Host: domain, Port: 389, UseTLS: false, Source: "fallback"},
		}, nil
	}

	sortServers(servers)
	return servers, nil
}

func (d *srvDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, err
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, r := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(r.Target, "."),
			Port:     int(r.Port),
			UseTLS:   useTLS,
			Priority: int(r.Priority),
			Weight:   int(r.Weight),
			Source:   "srv",
		})
	}
	return servers, nil
}

// sortServers orders servers by SRV priority, then by descending weight.
func sortServers(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ServerURL converts a ServerInfo to an LDAP URL.
func ServerURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, server.Host, server.Port)
}

// ParseServerURL parses an ldap:// or ldaps:// URL into a ServerInfo.
func ParseServerURL(url string) (*ServerInfo, error) {
	if url == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	var useTLS bool
	switch {
	case strings.HasPrefix(url, "ldaps://"):
		useTLS = true
		url = strings.TrimPrefix(url, "ldaps://")
	case strings.HasPrefix(url, "ldap://"):
		url = strings.TrimPrefix(url, "ldap://")
	default:
		return nil, fmt.Errorf("unsupported scheme, must be ldap:// or ldaps://")
	}

	url = strings.TrimSuffix(url, "/")
	if url == "" {
		return nil, fmt.Errorf("URL has no host")
	}

	host := url
	port := 389
	if useTLS {
		port = 636
	}

	if i := strings.LastIndex(url, ":"); i >= 0 {
		host = url[:i]
		p, err := strconv.Atoi(url[i+1:])
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid port in URL %q", url)
		}
		port = p
	}

	if host == "" {
		return nil, fmt.Errorf("URL has no host")
	}

	return &ServerInfo{Host: host, Port: port, UseTLS: useTLS, Source: "config"}, nil
}
