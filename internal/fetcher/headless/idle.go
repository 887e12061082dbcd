package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// networkActivity tracks in-flight requests of one tab.
type networkActivity struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
	now      func() time.Time
}

func newNetworkActivity() *networkActivity {
	return &networkActivity{
		inflight: make(map[network.RequestID]struct{}),
		last:     time.Now(),
		now:      time.Now,
	}
}

func (a *networkActivity) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		a.started(e.RequestID)
	case *network.EventLoadingFinished:
		a.finished(e.RequestID)
	case *network.EventLoadingFailed:
		a.finished(e.RequestID)
	}
}

func (a *networkActivity) started(id network.RequestID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight[id] = struct{}{}
	a.last = a.now()
}

func (a *networkActivity) finished(id network.RequestID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, id)
	a.last = a.now()
}

// idleFor reports whether nothing has been in flight for at least quiet.
func (a *networkActivity) idleFor(quiet time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight) == 0 && a.now().Sub(a.last) >= quiet
}

// waitIdle blocks until the tab has been quiet for quiet or ctx is done.
func (a *networkActivity) waitIdle(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.idleFor(quiet) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
