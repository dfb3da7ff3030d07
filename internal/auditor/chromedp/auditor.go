// Package chromedp implements the page auditor on a headless Chrome browser.
package chromedp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Config controls the behavior of the auditor.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Auditor implements audit.Auditor using chromedp and headless Chrome.
type Auditor struct {
	cfg         Config
	blocklist   *audit.Blocklist
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates an auditor backed by chromedp. The blocklist, when present,
// classifies third-party requests in the collected metrics; actual request
// stripping in Blocked mode uses the patterns on the request itself.
func New(cfg Config, blocklist *audit.Blocklist) (*Auditor, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Auditor{
		cfg:         cfg,
		blocklist:   blocklist,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (a *Auditor) Close() {
	a.allocCancel()
}

// Audit navigates the page under the requested emulation and returns the
// structured report plus its raw JSON artifact.
func (a *Auditor) Audit(ctx context.Context, req audit.Request) (audit.Report, error) {
	if err := a.acquire(ctx); err != nil {
		return audit.Report{}, err
	}
	defer a.release()

	taskCtx, taskCancel := chromedp.NewContext(a.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, a.cfg.NavigationTimeout)
	defer cancel()

	counters := newPageCounters(a.blocklist)
	chromedp.ListenTarget(taskCtx, counters.captureEvent)

	start := time.Now()
	timing, err := a.runAudit(taskCtx, req)
	if err != nil {
		return audit.Report{}, err
	}
	duration := time.Since(start)

	metrics := counters.metrics()
	metrics.TTFBMillis = timing.TTFB
	metrics.DOMContentLoadedMillis = timing.DOMContentLoaded
	metrics.LoadEventMillis = timing.LoadEvent
	metrics.Score = scoreFor(metrics)

	report := audit.Report{
		URL:        req.URL,
		StatusCode: counters.documentStatus(),
		Metrics:    metrics,
		Duration:   duration,
	}
	raw, err := json.Marshal(artifact{
		URL:        report.URL,
		Device:     string(req.Device),
		StatusCode: report.StatusCode,
		Metrics:    metrics,
		DurationMs: duration.Milliseconds(),
	})
	if err != nil {
		return audit.Report{}, fmt.Errorf("marshal report artifact: %w", err)
	}
	report.RawJSON = raw
	return report, nil
}

// artifact is the raw JSON shape written to the report store.
type artifact struct {
	URL        string            `json:"url"`
	Device     string            `json:"device"`
	StatusCode int               `json:"status_code"`
	Metrics    audit.PageMetrics `json:"metrics"`
	DurationMs int64             `json:"duration_ms"`
}

type navTiming struct {
	TTFB             int64 `json:"ttfb"`
	DOMContentLoaded int64 `json:"domContentLoaded"`
	LoadEvent        int64 `json:"loadEvent"`
}

const timingScript = `(() => {
	const nav = performance.getEntriesByType('navigation')[0] || {};
	return {
		ttfb: Math.round(nav.responseStart || 0),
		domContentLoaded: Math.round(nav.domContentLoadedEventEnd || 0),
		loadEvent: Math.round(nav.loadEventEnd || 0)
	};
})()`

func (a *Auditor) runAudit(ctx context.Context, req audit.Request) (navTiming, error) {
	var timing navTiming
	actions := []chromedp.Action{
		a.setupAction(req),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(timingScript, &timing),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return navTiming{}, fmt.Errorf("chromedp run: %w", err)
	}
	return timing, nil
}

func (a *Auditor) setupAction(req audit.Request) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if a.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(a.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := deviceAction(req.Device).Do(ctx); err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		if len(req.BlockedPatterns) > 0 {
			if err := network.SetBlockedURLs(blockedURLPatterns(req.BlockedPatterns)).Do(ctx); err != nil {
				return fmt.Errorf("set blocked urls: %w", err)
			}
		}
		return nil
	})
}

// deviceAction maps a device class to viewport emulation. Mobile uses a
// common handset profile; desktop and unspecified use a laptop profile.
func deviceAction(device audit.Device) *emulation.SetDeviceMetricsOverrideParams {
	if device == audit.DeviceMobile {
		return emulation.SetDeviceMetricsOverride(375, 812, 3, true)
	}
	return emulation.SetDeviceMetricsOverride(1366, 768, 1, false)
}

// blockedURLPatterns converts host patterns into DevTools URL patterns.
// The DevTools matcher treats * as a wildcard, so an exact host still needs
// surrounding wildcards to match full URLs.
func blockedURLPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, "*"+strings.TrimPrefix(p, "*")+"*")
	}
	return out
}

func (a *Auditor) acquire(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	select {
	case a.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit slot wait canceled: %w", ctx.Err())
	}
}

func (a *Auditor) release() {
	if a.limiter == nil {
		return
	}
	select {
	case <-a.limiter:
	default:
	}
}

// pageCounters accumulates request and byte counts from network events.
type pageCounters struct {
	mu         sync.Mutex
	blocklist  *audit.Blocklist
	requests   int
	thirdParty int
	bytes      int64
	status     int
}

func newPageCounters(blocklist *audit.Blocklist) *pageCounters {
	return &pageCounters{blocklist: blocklist}
}

func (c *pageCounters) captureEvent(ev any) {
	switch event := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.mu.Lock()
		c.requests++
		if host := hostOf(event.Request.URL); c.blocklist.Matches(host) {
			c.thirdParty++
		}
		c.mu.Unlock()
	case *network.EventLoadingFinished:
		c.mu.Lock()
		c.bytes += int64(event.EncodedDataLength)
		c.mu.Unlock()
	case *network.EventResponseReceived:
		if event.Type != network.ResourceTypeDocument || event.Response == nil {
			return
		}
		c.mu.Lock()
		if c.status == 0 {
			c.status = int(event.Response.Status)
		}
		c.mu.Unlock()
	}
}

func (c *pageCounters) metrics() audit.PageMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return audit.PageMetrics{
		RequestCount:       c.requests,
		ThirdPartyRequests: c.thirdParty,
		TransferBytes:      c.bytes,
	}
}

func (c *pageCounters) documentStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// scoreFor derives a coarse 0-100 latency score from load timings.
func scoreFor(m audit.PageMetrics) int {
	score := 100
	switch {
	case m.LoadEventMillis > 10_000:
		score -= 60
	case m.LoadEventMillis > 5_000:
		score -= 40
	case m.LoadEventMillis > 2_500:
		score -= 20
	case m.LoadEventMillis > 1_000:
		score -= 10
	}
	switch {
	case m.TTFBMillis > 1_800:
		score -= 30
	case m.TTFBMillis > 800:
		score -= 15
	}
	if m.RequestCount > 150 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}
