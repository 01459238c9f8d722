// Package images normalizes, transcodes, and uploads page images.
package images

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Normalizer produces stable dedup keys for image URLs.
type Normalizer struct {
	cdnHosts    []string
	excludeExts map[string]bool
}

// NewNormalizer builds a Normalizer. cdnHosts are matched by suffix so
// region-prefixed object-storage hosts normalize too.
func NewNormalizer(cdnHosts, excludeExts []string) *Normalizer {
	exts := make(map[string]bool, len(excludeExts))
	for _, e := range excludeExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Normalizer{
		cdnHosts:    cdnHosts,
		excludeExts: exts,
	}
}

// Normalize strips the query string for recognized CDN/object-storage hosts,
// where it is per-request signed-URL noise; other hosts pass through
// unmodified so the same asset always yields the same key.
func (n *Normalizer) Normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("image url %q is not absolute", raw)
	}
	if n.isCDNHost(u.Hostname()) {
		u.RawQuery = ""
		u.Fragment = ""
	}
	return u.String(), nil
}

// Excluded reports whether the normalized URL's extension is filtered out
// before any download is attempted.
func (n *Normalizer) Excluded(normalized string) bool {
	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return n.excludeExts[ext]
}

func (n *Normalizer) isCDNHost(host string) bool {
	host = strings.ToLower(host)
	for _, cdn := range n.cdnHosts {
		cdn = strings.ToLower(cdn)
		if host == cdn || strings.HasSuffix(host, "."+cdn) {
			return true
		}
	}
	return false
}
