package crawler

import (
	"net/http"
	"strings"
	"time"
)

// DefaultLocation is used when a listing does not advertise a location.
const DefaultLocation = "Location not specified"

// JobRecord is one extracted listing.
type JobRecord struct {
	Title     string   `json:"title"`
	Company   string   `json:"company"`
	Location  string   `json:"location"`
	Tags      []string `json:"tags"`
	Link      string   `json:"link"`
	LogoURL   string   `json:"logoUrl,omitempty"`
	SalaryMin int      `json:"salaryMin,omitempty"`
	SalaryMax int      `json:"salaryMax,omitempty"`
}

// Valid reports whether the record carries every required field.
func (r JobRecord) Valid() bool {
	return strings.TrimSpace(r.Title) != "" &&
		strings.TrimSpace(r.Company) != "" &&
		strings.TrimSpace(r.Link) != ""
}

// Filters narrows a result set. Zero values are inactive.
type Filters struct {
	Location  string `json:"location,omitempty"`
	Company   string `json:"company,omitempty"`
	Benefits  string `json:"benefits,omitempty"`
	MinSalary int    `json:"min_salary,omitempty"`
}

// Active reports whether at least one predicate is set.
func (f Filters) Active() bool {
	return f.Location != "" || f.Company != "" || f.Benefits != "" || f.MinSalary > 0
}

// Match applies every active predicate; all must hold.
func (f Filters) Match(r JobRecord) bool {
	if f.Company != "" && !containsFold(r.Company, f.Company) {
		return false
	}
	if f.Location != "" && !containsFold(r.Location, f.Location) {
		return false
	}
	if f.Benefits != "" && !anyContainsFold(r.Tags, f.Benefits) {
		return false
	}
	if f.MinSalary > 0 && max(r.SalaryMin, r.SalaryMax) < f.MinSalary {
		return false
	}
	return true
}

// Apply returns the records that pass the filters, preserving order.
func (f Filters) Apply(records []JobRecord) []JobRecord {
	out := make([]JobRecord, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// SearchQuery is one request to the pipeline.
type SearchQuery struct {
	Term    string
	Filters Filters
}

// JobResult is returned to callers of the pipeline.
type JobResult struct {
	Jobs              []JobRecord `json:"jobs"`
	TotalJobsReported int         `json:"totalJobsReported"`
	FetchedCount      int         `json:"fetchedCount"`
	FetchedAt         time.Time   `json:"fetchedAt,omitzero"`
	FromCache         bool        `json:"fromCache"`
}

// EmptyResult is the complete-but-empty outcome of a failed crawl.
func EmptyResult() JobResult {
	return JobResult{Jobs: []JobRecord{}}
}

// CacheEntry is the persisted outcome of one crawl for a term.
type CacheEntry struct {
	Term              string      `json:"term"`
	Jobs              []JobRecord `json:"jobs"`
	TotalJobsReported int         `json:"totalJobsReported"`
	FetchedAt         time.Time   `json:"fetchedAt"`
}

// CacheInfo describes one stored entry without loading it.
type CacheInfo struct {
	Term      string    `json:"term"`
	Bytes     int64     `json:"bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheStats summarizes the cache occupancy.
type CacheStats struct {
	Entries     int   `json:"entries"`
	TotalBytes  int64 `json:"total_bytes"`
	BudgetBytes int64 `json:"budget_bytes"`
}

// Page is the markup produced by a renderer or fetcher.
type Page struct {
	URL           string
	FinalURL      string
	StatusCode    int
	Headers       http.Header
	Body          []byte
	TotalReported int
	UsedHeadless  bool
	Duration      time.Duration
}

// Crawl is the extraction outcome of a single JobSource fetch.
type Crawl struct {
	Jobs          []JobRecord
	TotalReported int
	UsedHeadless  bool
}

// Task is one unit of queued crawl work. It is resolved exactly once.
type Task struct {
	ID         string
	SearchTerm string
	URL        string
	Submitted  time.Time
	Result     chan TaskResult
}

// TaskResult carries the outcome of a Task.
type TaskResult struct {
	Entry    CacheEntry
	CacheHit bool
	Err      error
}

// NewTask builds a task with a buffered result channel.
func NewTask(id, term, rawURL string, submitted time.Time) Task {
	return Task{
		ID:         id,
		SearchTerm: term,
		URL:        rawURL,
		Submitted:  submitted,
		Result:     make(chan TaskResult, 1),
	}
}

// Resolve delivers the result without blocking. The channel is buffered
// with capacity one and each task is resolved by exactly one owner.
func (t Task) Resolve(res TaskResult) {
	select {
	case t.Result <- res:
	default:
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func anyContainsFold(values []string, needle string) bool {
	for _, v := range values {
		if containsFold(v, needle) {
			return true
		}
	}
	return false
}
