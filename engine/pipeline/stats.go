package pipeline

import (
	"github.com/squidspace/sqs/pkg/logger"
)

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Stats counts resource outcomes of a module run.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

func (s *Stats) record(o outcome) {
	s.Total++
	switch o {
	case outcomeSucceeded:
		s.Succeeded++
	case outcomeFailed:
		s.Failed++
	case outcomeSkipped:
		s.Skipped++
	}
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Total += other.Total
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

// OK reports whether no resource failed.
func (s Stats) OK() bool {
	return s.Failed == 0
}

func (s Stats) log(log logger.Logger, msg string, keyvals ...any) {
	kv := make([]any, 0, len(keyvals)+8)
	kv = append(kv, keyvals...)
	kv = append(kv,
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"skipped", s.Skipped,
	)
	if s.Failed > 0 {
		log.Warn(msg, kv...)
		return
	}
	log.Info(msg, kv...)
}
