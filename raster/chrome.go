// Package raster turns exported canvas SVG into encoded images using a
// headless Chrome.
package raster

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"make_real/canvas"
)

// Config controls the Chrome backend.
type Config struct {
	// RemoteURL is a CDP websocket endpoint. Empty launches a local Chrome.
	RemoteURL string
	// Timeout bounds a single rasterization.
	Timeout time.Duration
	// MaxSize caps both output dimensions in pixels; 0 means no cap.
	MaxSize int
}

// ChromeRasterizer implements canvas.Rasterizer. One browser is shared and
// every call gets its own tab.
type ChromeRasterizer struct {
	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	cfg           Config
	logger        *slog.Logger
	closed        bool
}

// NewChrome starts (or connects to) a browser.
func NewChrome(cfg Config, logger *slog.Logger) (*ChromeRasterizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &ChromeRasterizer{cfg: cfg, logger: logger}

	var allocCtx context.Context
	if cfg.RemoteURL != "" {
		allocCtx, r.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		logger.Info("raster: connecting to remote chrome", "url", cfg.RemoteURL)
	} else {
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		logger.Info("raster: launching local chrome")
	}
	r.browserCtx, r.browserCancel = chromedp.NewContext(allocCtx)

	// 第一次 Run 绑定浏览器会话，不能套 timeout context。
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(r.browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-time.After(cfg.Timeout):
		r.Close()
		return nil, fmt.Errorf("start chrome: timed out after %v", cfg.Timeout)
	}
	return r, nil
}

// Rasterize renders svg in a fresh tab sized width by height and returns the
// screenshot in format.
func (r *ChromeRasterizer) Rasterize(ctx context.Context, svg string, width, height int, format canvas.ImageFormat) (canvas.Image, error) {
	return r.capture(ctx, svgPage(svg, width, height), "svg", width, height, format)
}

// RenderHTML screenshots a full HTML document at width by height.
func (r *ChromeRasterizer) RenderHTML(ctx context.Context, doc string, width, height int, format canvas.ImageFormat) (canvas.Image, error) {
	u := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
	return r.capture(ctx, u, "body", width, height, format)
}

func (r *ChromeRasterizer) capture(ctx context.Context, url, ready string, width, height int, format canvas.ImageFormat) (canvas.Image, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return canvas.Image{}, fmt.Errorf("rasterize: browser closed")
	}
	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	r.mu.Unlock()
	defer tabCancel()

	tctx, cancel := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancel()
	// 调用方取消时同时结束 tab
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var shot []byte
	err := chromedp.Run(tctx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(url),
		chromedp.WaitReady(ready),
		chromedp.ActionFunc(func(actx context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				Do(actx)
			if err != nil {
				return err
			}
			shot = data
			return nil
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return canvas.Image{}, ctx.Err()
		}
		return canvas.Image{}, fmt.Errorf("rasterize: %w", err)
	}
	img, err := Normalize(shot, width, height, r.cfg.MaxSize, format)
	if err != nil {
		return canvas.Image{}, err
	}
	r.logger.Debug("raster: captured", "width", img.Width, "height", img.Height, "format", img.Format, "bytes", len(img.Data))
	return img, nil
}

// Close shuts the browser down. Safe to call more than once.
func (r *ChromeRasterizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

// svgPage wraps svg in a margin-free page as a data URL.
func svgPage(svg string, width, height int) string {
	doc := fmt.Sprintf(`<!DOCTYPE html><html><head><style>html,body{margin:0;padding:0;overflow:hidden}svg{display:block;width:%dpx;height:%dpx}</style></head><body>%s</body></html>`,
		width, height, svg)
	return "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
}
