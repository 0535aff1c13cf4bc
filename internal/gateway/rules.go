package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"healthpay-gateway/internal/conf"
)

// RouteRule is a compiled proxy route. The upstream URL is parsed once at
// startup so the hot path never parses.
type RouteRule struct {
	Prefix       string
	Service      string
	Upstream     *url.URL
	RequiresAuth bool
	Roles        []string
	LimitClass   string
}

// BuildRoutes compiles the configured route table. Routes are sorted by
// descending prefix length so matching can take the first hit.
func BuildRoutes(c *conf.Gateway) ([]*RouteRule, error) {
	rules := make([]*RouteRule, 0, len(c.Routes))
	for _, rt := range c.Routes {
		target, ok := c.Upstreams[rt.Service]
		if !ok {
			return nil, fmt.Errorf("route %s references unknown upstream service %q", rt.Prefix, rt.Service)
		}
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("upstream %s has invalid URL %q: %w", rt.Service, target, err)
		}
		rules = append(rules, &RouteRule{
			Prefix:       strings.TrimSuffix(rt.Prefix, "/"),
			Service:      rt.Service,
			Upstream:     u,
			RequiresAuth: rt.RequiresAuth,
			Roles:        rt.Roles,
			LimitClass:   rt.LimitClass,
		})
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Prefix) > len(rules[j].Prefix)
	})
	return rules, nil
}

// Match returns the longest-prefix route for path, or nil. Prefixes match
// on path segment boundaries only: /v2/wallets matches /v2/wallets and
// /v2/wallets/123, but not /v2/walletsummary.
func Match(rules []*RouteRule, path string) *RouteRule {
	for _, r := range rules {
		if !strings.HasPrefix(path, r.Prefix) {
			continue
		}
		if len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/' {
			return r
		}
	}
	return nil
}
