package render

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightConverter prints HTML with headless Chromium. A browser is
// started per call; the generation stage renders at most a few documents a
// minute.
type PlaywrightConverter struct{}

func NewPlaywrightConverter() *PlaywrightConverter {
	return &PlaywrightConverter{}
}

func (c *PlaywrightConverter) Convert(ctx context.Context, html string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer browser.Close()

	page, err := browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	opts := playwright.PageSetContentOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}
	if deadline, ok := ctx.Deadline(); ok {
		if ms := float64(timeUntil(deadline)); ms > 0 {
			opts.Timeout = playwright.Float(ms)
		}
	}
	if err := page.SetContent(html, opts); err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}

	pdf, err := page.PDF(playwright.PagePdfOptions{
		Format:          playwright.String("A4"),
		PrintBackground: playwright.Bool(true),
		Margin: &playwright.Margin{
			Top:    playwright.String("12mm"),
			Bottom: playwright.String("12mm"),
			Left:   playwright.String("10mm"),
			Right:  playwright.String("10mm"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// timeUntil returns milliseconds until t.
func timeUntil(t time.Time) int64 {
	return time.Until(t).Milliseconds()
}
