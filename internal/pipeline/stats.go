package pipeline

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type counters struct {
	submitted atomic.Uint64
	accepted  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	lastNanos atomic.Int64
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Submitted      uint64        `json:"submitted"`
	Accepted       uint64        `json:"accepted"`
	Dropped        uint64        `json:"dropped"`
	Processed      uint64        `json:"processed"`
	Failed         uint64        `json:"failed"`
	LastProcessing time.Duration `json:"lastProcessingNs"`
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:      p.stats.submitted.Load(),
		Accepted:       p.stats.accepted.Load(),
		Dropped:        p.stats.dropped.Load(),
		Processed:      p.stats.processed.Load(),
		Failed:         p.stats.failed.Load(),
		LastProcessing: time.Duration(p.stats.lastNanos.Load()),
	}
}

func (s Stats) fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("submitted", s.Submitted),
		zap.Uint64("accepted", s.Accepted),
		zap.Uint64("dropped", s.Dropped),
		zap.Uint64("processed", s.Processed),
		zap.Uint64("failed", s.Failed),
		zap.Duration("last_processing", s.LastProcessing),
	}
}
