package report

import "sync"

// Progress tracks completed versus expected units of work for the report
// currently being built. A nil *Progress ignores all updates.
type Progress struct {
	mu    sync.Mutex
	cur   int
	total int
	done  bool
}

// ProgressSnapshot is a point-in-time copy of Progress.
type ProgressSnapshot struct {
	Current int  `json:"current"`
	Total   int  `json:"total"`
	Percent int  `json:"percent"`
	Done    bool `json:"done"`
}

func (p *Progress) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur, p.total, p.done = 0, 0, false
}

// AddTotal registers n more units of expected work.
func (p *Progress) AddTotal(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	p.total += n
	p.mu.Unlock()
}

// Replan records that one expected unit has been replaced by k units.
func (p *Progress) Replan(k int) {
	p.AddTotal(k - 1)
}

// Done records n completed units.
func (p *Progress) Done(n int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur += n
	if p.cur > p.total {
		p.total = p.cur
	}
}

// Complete marks the report as finished.
func (p *Progress) Complete() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

// Percent is the completed share, never negative and at most 99 until Complete.
func (p *Progress) Percent() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percentLocked()
}

func (p *Progress) percentLocked() int {
	if p.done {
		return 100
	}
	if p.total <= 0 || p.cur <= 0 {
		return 0
	}
	return min(p.cur*100/p.total, 99)
}

func (p *Progress) Snapshot() ProgressSnapshot {
	if p == nil {
		return ProgressSnapshot{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressSnapshot{
		Current: p.cur,
		Total:   p.total,
		Percent: p.percentLocked(),
		Done:    p.done,
	}
}
