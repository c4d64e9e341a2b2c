// Package stats counts replay outcomes for the end-of-run summary.
package stats

import "sync"

type Summary struct {
	Scanned     int
	Tagged      int
	PassThrough int
	Resubmitted int
	DryRun      int
	Skipped     int
	NoEnvelope  int
	Errors      int
	LastError   error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"tagged", s.Tagged,
		"passThrough", s.PassThrough,
		"resubmitted", s.Resubmitted,
		"dryRun", s.DryRun,
		"skipped", s.Skipped,
		"noEnvelope", s.NoEnvelope,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector accumulates counts. The replay loop is sequential, but the
// mutex keeps Snapshot safe to call from a progress renderer.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Scanned() { c.add(func(s *Summary) { s.Scanned++ }) }

func (c *Collector) Tagged() { c.add(func(s *Summary) { s.Tagged++ }) }

func (c *Collector) PassThrough() { c.add(func(s *Summary) { s.PassThrough++ }) }

func (c *Collector) Resubmitted() { c.add(func(s *Summary) { s.Resubmitted++ }) }

func (c *Collector) DryRun() { c.add(func(s *Summary) { s.DryRun++ }) }

func (c *Collector) Skipped() { c.add(func(s *Summary) { s.Skipped++ }) }

func (c *Collector) NoEnvelope() { c.add(func(s *Summary) { s.NoEnvelope++ }) }

func (c *Collector) Error(err error) {
	c.add(func(s *Summary) {
		s.Errors++
		if err != nil {
			s.LastError = err
		}
	})
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) add(fn func(*Summary)) {
	c.mu.Lock()
	fn(&c.summary)
	c.mu.Unlock()
}
