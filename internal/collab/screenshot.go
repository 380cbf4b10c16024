package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ChromeScreenshotter captures page screenshots with a headless browser.
// One call spawns one browser; concurrent captures are independent.
type ChromeScreenshotter struct {
	dir     string
	timeout time.Duration
	quality int
}

// ScreenshotOption configures a ChromeScreenshotter.
type ScreenshotOption func(*ChromeScreenshotter)

// WithScreenshotTimeout bounds how long one capture may take.
func WithScreenshotTimeout(d time.Duration) ScreenshotOption {
	return func(s *ChromeScreenshotter) { s.timeout = d }
}

// WithScreenshotQuality sets the image quality (1-100).
func WithScreenshotQuality(q int) ScreenshotOption {
	return func(s *ChromeScreenshotter) { s.quality = q }
}

// NewChromeScreenshotter builds a screenshotter writing artifacts under dir.
func NewChromeScreenshotter(dir string, opts ...ScreenshotOption) *ChromeScreenshotter {
	s := &ChromeScreenshotter{
		dir:     dir,
		timeout: 30 * time.Second,
		quality: 90,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture navigates to the URL, shoots the full page, and returns the path
// of the written image.
func (s *ChromeScreenshotter) Capture(ctx context.Context, url, clientID string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating screenshot dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var buf []byte
	err := chromedp.Run(browserCtx,
		emulation.SetDeviceMetricsOverride(1440, 900, 1, false),
		chromedp.Navigate(url),
		chromedp.FullScreenshot(&buf, s.quality),
	)
	if err != nil {
		return "", fmt.Errorf("capturing %s: %w", url, err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("screenshot_%s.png", clientID))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}
