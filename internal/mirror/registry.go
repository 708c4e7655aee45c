// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"net"
	"strings"
)

// DefaultMirrors are tried after the primary host and any configured mirrors.
var DefaultMirrors = []string{
	"audiobookbay.lu",
	"audiobookbay.is",
	"audiobookbay.se",
	"audiobookbay.li",
	"audiobookbay.ws",
	"audiobookbay.la",
	"audiobookbay.me",
	"audiobookbay.fi",
	"theaudiobookbay.com",
	"audiobookbay.nl",
	"audiobookbay.pl",
}

// Candidate is one host the listing site may be reached through. Hostname may carry a port.
type Candidate struct {
	Hostname string
	Scheme   string
}

// BaseURL returns scheme://hostname without a trailing slash.
func (c Candidate) BaseURL() string {
	return c.Scheme + "://" + c.Hostname
}

// Host returns the hostname without any port.
func (c Candidate) Host() string {
	return stripPort(c.Hostname)
}

// Registry is the ordered, immutable list of candidates.
type Registry struct {
	candidates []Candidate
	allowed    map[string]struct{}
}

func NewRegistry(primary, scheme string, mirrors []string, useDefaults bool) *Registry {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme != "http" {
		scheme = "https"
	}

	hosts := make([]string, 0, 1+len(mirrors)+len(DefaultMirrors))
	hosts = append(hosts, primary)
	hosts = append(hosts, mirrors...)
	if useDefaults {
		hosts = append(hosts, DefaultMirrors...)
	}

	r := &Registry{allowed: make(map[string]struct{})}
	for _, h := range hosts {
		h = NormalizeHostname(h)
		if h == "" {
			continue
		}
		if _, dup := r.allowed[h]; dup {
			continue
		}
		r.allowed[h] = struct{}{}
		r.candidates = append(r.candidates, Candidate{Hostname: h, Scheme: scheme})
	}

	return r
}

// Candidates returns the candidates in priority order.
func (r *Registry) Candidates() []Candidate {
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

func (r *Registry) Len() int {
	return len(r.candidates)
}

// Allowed reports whether hostname (with or without port) belongs to the registry.
func (r *Registry) Allowed(hostname string) bool {
	h := NormalizeHostname(hostname)
	if _, ok := r.allowed[h]; ok {
		return true
	}
	// a bare host matches a registry entry that carries a port, and vice versa
	bare := stripPort(h)
	for _, c := range r.candidates {
		if c.Host() == bare {
			return true
		}
	}
	return false
}

// Hosts returns the registry hostnames without ports, in priority order.
func (r *Registry) Hosts() []string {
	seen := make(map[string]struct{}, len(r.candidates))
	out := make([]string, 0, len(r.candidates))
	for _, c := range r.candidates {
		h := c.Host()
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// NormalizeHostname lowercases and strips quotes, schemes and paths from an operator-supplied host.
func NormalizeHostname(h string) string {
	h = strings.ToLower(strings.Trim(strings.TrimSpace(h), `"'`))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSuffix(h, ".")
}

func stripPort(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}
