package targets

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/beaconaudit/beacon/internal/audit"
)

// RemoteConfig controls the remote catalog fetch.
type RemoteConfig struct {
	IndexURL  string
	UserAgent string
	Timeout   time.Duration
	MaxPages  int
}

// Remote flattens an externally hosted index page into the target catalog:
// every same-host link becomes one target, in document order, identified by
// a slug of its path.
type Remote struct {
	cfg RemoteConfig
}

// NewRemote builds a Remote source.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if strings.TrimSpace(cfg.IndexURL) == "" {
		return nil, fmt.Errorf("index url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	return &Remote{cfg: cfg}, nil
}

// Targets fetches the index page and extracts the catalog.
func (r *Remote) Targets(ctx context.Context) ([]audit.Target, error) {
	index, err := url.Parse(r.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}

	collector := colly.NewCollector(colly.Async(false))
	collector.SetRequestTimeout(r.cfg.Timeout)
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.Context = ctx

	var (
		targets  []audit.Target
		seen     = make(map[string]struct{})
		fetchErr error
	)
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(targets) >= r.cfg.MaxPages {
			return
		}
		link, err := url.Parse(e.Request.AbsoluteURL(e.Attr("href")))
		if err != nil || link.Hostname() != index.Hostname() {
			return
		}
		identity := slugify(link.Path)
		if identity == "" || identity == audit.SentinelAll {
			return
		}
		if _, dup := seen[identity]; dup {
			return
		}
		seen[identity] = struct{}{}
		targets = append(targets, audit.Target{
			Identity: identity,
			URL:      link.String(),
		})
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := collector.Visit(r.cfg.IndexURL); err != nil {
		return nil, fmt.Errorf("visit index %s: %w", r.cfg.IndexURL, err)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch index %s: %w", r.cfg.IndexURL, fetchErr)
	}
	return targets, nil
}

// slugify turns a URL path into a stable identity. The root path maps to
// "home"; separators and unsafe characters collapse to dashes.
func slugify(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "home"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(trimmed) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
