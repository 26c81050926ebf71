// Package screenshot captures full-page screenshots with headless Chrome and
// stores them in a blob store under a content-addressed path.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/hash/sha256"
)

// Config controls the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	Width             int64
	Height            int64
	// PathPrefix is prepended to every stored object path.
	PathPrefix string
}

type captureFunc func(ctx context.Context, url string) ([]byte, error)

// Capturer implements the collector enricher contract using chromedp.
type Capturer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	blobs       discovery.BlobStore
	hasher      discovery.Hasher
	capture     captureFunc
}

// New creates a Capturer writing into blobs.
func New(cfg Config, blobs discovery.BlobStore, hasher discovery.Hasher) (*Capturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "screenshots"
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

	c := &Capturer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		blobs:       blobs,
		hasher:      hasher,
	}
	c.capture = c.screenshot
	return c, nil
}

// Close cancels the allocator context, shutting the browser down.
func (c *Capturer) Close() {
	c.allocCancel()
}

// Name identifies the enricher in logs and metrics.
func (c *Capturer) Name() string {
	return "screenshot"
}

// Enrich screenshots req.URL and records where the image was stored.
func (c *Capturer) Enrich(ctx context.Context, req discovery.CollectRequest) (discovery.DomainMetadata, error) {
	meta := discovery.DomainMetadata{DomainName: req.DomainName}
	if err := c.acquire(ctx); err != nil {
		return meta, err
	}
	defer c.release()

	shot, err := c.capture(ctx, req.URL)
	if err != nil {
		return meta, err
	}
	digest, err := c.hasher.Hash(shot)
	if err != nil {
		return meta, fmt.Errorf("hash screenshot: %w", err)
	}
	path, err := sha256.ContentPath(c.cfg.PathPrefix, digest, "png")
	if err != nil {
		return meta, fmt.Errorf("screenshot path: %w", err)
	}
	uri, err := c.blobs.PutObject(ctx, path, "image/png", bytes.NewReader(shot))
	if err != nil {
		return meta, fmt.Errorf("store screenshot: %w", err)
	}
	meta.ScreenshotPath = &uri
	return meta, nil
}

func (c *Capturer) screenshot(ctx context.Context, url string) ([]byte, error) {
	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavigationTimeout)
	defer cancel()

	var buf []byte
	actions := []chromedp.Action{
		c.setupAction(),
		chromedp.EmulateViewport(c.cfg.Width, c.cfg.Height),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.FullScreenshot(&buf, 100),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("chromedp run: empty screenshot")
	}
	return buf, nil
}

func (c *Capturer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if c.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("screenshot slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
