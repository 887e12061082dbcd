// Package crawler holds the domain model of the job listings pipeline: job
// records, filters, cache entries, queued tasks, and the interfaces that the
// renderer, fetcher, cache store, queue, and job sources implement.
package crawler
