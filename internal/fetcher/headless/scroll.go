package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// scrollDriver is the slice of browser behavior the scroll loop needs.
type scrollDriver interface {
	Height(ctx context.Context) (int64, error)
	ScrollToBottom(ctx context.Context) error
	// WaitForGrowth returns once the height exceeds previous or wait elapses.
	// Elapsing is not an error.
	WaitForGrowth(ctx context.Context, previous int64, wait time.Duration) error
}

// scrollToEnd scrolls until two consecutive height reads are equal and
// returns the number of scrolls performed. There is no scroll counter;
// the caller's deadline bounds pages that never stop growing.
func scrollToEnd(ctx context.Context, driver scrollDriver, wait time.Duration) (int, error) {
	previous, err := driver.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("read height: %w", err)
	}
	scrolls := 0
	for {
		if err := ctx.Err(); err != nil {
			return scrolls, fmt.Errorf("scroll canceled: %w", err)
		}
		if err := driver.ScrollToBottom(ctx); err != nil {
			return scrolls, fmt.Errorf("scroll to bottom: %w", err)
		}
		scrolls++
		if err := driver.WaitForGrowth(ctx, previous, wait); err != nil {
			return scrolls, fmt.Errorf("wait for growth: %w", err)
		}
		current, err := driver.Height(ctx)
		if err != nil {
			return scrolls, fmt.Errorf("read height: %w", err)
		}
		if current <= previous {
			return scrolls, nil
		}
		previous = current
	}
}

// chromedpDriver runs the scroll primitives in the page.
type chromedpDriver struct{}

func (chromedpDriver) Height(ctx context.Context) (int64, error) {
	var height int64
	if err := chromedp.Run(ctx, chromedp.Evaluate(`document.body.scrollHeight`, &height)); err != nil {
		return 0, err
	}
	return height, nil
}

func (chromedpDriver) ScrollToBottom(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

func (chromedpDriver) WaitForGrowth(ctx context.Context, previous int64, wait time.Duration) error {
	expr := fmt.Sprintf(`document.body.scrollHeight > %d`, previous)
	err := chromedp.Run(ctx, chromedp.Poll(expr, nil,
		chromedp.WithPollingInterval(100*time.Millisecond),
		chromedp.WithPollingTimeout(wait),
	))
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		return nil
	}
	return err
}
