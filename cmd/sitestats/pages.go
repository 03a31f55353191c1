package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var errPageForbidden = errors.New("page address not allowed")

// sharedAddressSpace is the carrier-grade NAT range, 100.64.0.0/10.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// pagePolicy limits which pages the server downloads. With a site origin only
// that origin is fetched; without one any public http(s) host is.
type pagePolicy struct {
	site *url.URL
}

func newPagePolicy(site string) (*pagePolicy, error) {
	if site == "" {
		return &pagePolicy{}, nil
	}
	u, err := url.Parse(site)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid site url %q", site)
	}
	return &pagePolicy{site: u}, nil
}

// check rejects page URLs the server must not download. Host names are
// resolved at dial time, where the public-only dialer takes over.
func (p *pagePolicy) check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errPageForbidden, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", errPageForbidden, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: no host", errPageForbidden)
	}

	if p.site != nil {
		if u.Scheme != p.site.Scheme || !strings.EqualFold(u.Host, p.site.Host) {
			return fmt.Errorf("%w: %s is outside %s", errPageForbidden, u.Host, p.site.Host)
		}
		return nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", errPageForbidden, host)
	}
	if ip, err := netip.ParseAddr(host); err == nil && !publicAddr(ip) {
		return fmt.Errorf("%w: %s", errPageForbidden, ip)
	}
	return nil
}

// fetcher returns the page downloader for the policy. Redirects are checked
// like the original URL. Without a site origin, connections to non-public
// addresses are refused after DNS resolution.
func (p *pagePolicy) fetcher() func(ctx context.Context, url string) ([]byte, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if p.site == nil {
		dialer.Control = dialPublicOnly
	}
	client := &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return p.check(req.URL.String())
		},
	}
	return func(ctx context.Context, pageURL string) ([]byte, error) {
		return fetchPage(ctx, client, pageURL)
	}
}

func dialPublicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", errPageForbidden, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !publicAddr(ip) {
		return fmt.Errorf("%w: %s", errPageForbidden, host)
	}
	return nil
}

func publicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() && !ip.IsPrivate() && !sharedAddressSpace.Contains(ip)
}
