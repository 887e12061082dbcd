package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors for each failure class of the pipeline.
var (
	ErrRender       = errors.New("render failed")
	ErrFetch        = errors.New("fetch failed")
	ErrExtraction   = errors.New("extraction failed")
	ErrCache        = errors.New("cache failure")
	ErrQueueClosed  = errors.New("queue closed")
	ErrInvalidQuery = errors.New("invalid query")
	ErrTaskTimeout  = errors.New("task timed out")
)

// RenderError reports a browser navigation or scripting failure.
type RenderError struct {
	URL string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.URL, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRender) match any RenderError.
func (e *RenderError) Is(target error) bool { return target == ErrRender }

// FetchError reports a transport failure or non-2xx status on the static path.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFetch) match any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }
