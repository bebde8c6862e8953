package offlinecache

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/always-cache/offline-cache/namespace"
)

// Strategy is a request handling algorithm.
type Strategy int

const (
	CacheFirst Strategy = iota
	NetworkFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

const (
	DefaultFontCSSHost  = "fonts.googleapis.com"
	DefaultFontFileHost = "fonts.gstatic.com"
)

// Rule routes matching requests to a strategy and partition.
// Rules are evaluated in order and the first match wins.
type Rule struct {
	Name      string
	Match     func(r *http.Request) bool
	Strategy  Strategy
	Partition namespace.Partition
}

// Route is the outcome of classifying a request.
type Route struct {
	Rule      string
	Strategy  Strategy
	Partition namespace.Partition
}

// DefaultRules returns the classification rules for the given font hosts.
func DefaultRules(fontCSSHost, fontFileHost string) []Rule {
	return []Rule{
		{
			Name:      "font-css",
			Match:     HostIs(fontCSSHost),
			Strategy:  StaleWhileRevalidate,
			Partition: namespace.Fonts,
		},
		{
			Name:      "font-files",
			Match:     HostIs(fontFileHost),
			Strategy:  CacheFirst,
			Partition: namespace.Fonts,
		},
		{
			Name:      "static",
			Match:     ExtensionIn("html", "json", "png", "ico"),
			Strategy:  NetworkFirst,
			Partition: namespace.Static,
		},
		{
			Name:      "scripts-and-styles",
			Match:     ExtensionIn("js", "css"),
			Strategy:  StaleWhileRevalidate,
			Partition: namespace.Generic,
		},
	}
}

// fallbackRoute applies when no rule matches.
var fallbackRoute = Route{
	Rule:      "default",
	Strategy:  NetworkFirst,
	Partition: namespace.Generic,
}

// HostIs matches requests whose hostname equals host, ignoring case and port.
func HostIs(host string) func(r *http.Request) bool {
	host = strings.ToLower(host)
	return func(r *http.Request) bool {
		return strings.ToLower(r.URL.Hostname()) == host
	}
}

// ExtensionIn matches requests whose path ends in one of the extensions (without dot).
func ExtensionIn(extensions ...string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		set["."+strings.ToLower(ext)] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[strings.ToLower(path.Ext(r.URL.Path))]
		return ok
	}
}

// Classify routes a request. The request URL must be absolute.
func Classify(rules []Rule, r *http.Request) Route {
	for _, rule := range rules {
		if rule.Match(r) {
			return Route{
				Rule:      rule.Name,
				Strategy:  rule.Strategy,
				Partition: rule.Partition,
			}
		}
	}
	return fallbackRoute
}
