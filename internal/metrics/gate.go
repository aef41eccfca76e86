package metrics

import (
	"errors"
	"fmt"

	"github.com/altafino/thread-archiver/internal/extract"
)

// ErrTruncationLimit is raised when a thread would lose too much content.
var ErrTruncationLimit = errors.New("truncation exceeds hard limit")

type GateLevel int

const (
	GateOK GateLevel = iota
	GateWarn
	GateBlock
)

func (l GateLevel) String() string {
	switch l {
	case GateWarn:
		return "warn"
	case GateBlock:
		return "block"
	default:
		return "ok"
	}
}

// Gate bounds how much of a thread's text truncation may remove.
type Gate struct {
	WarnRatio float64
	MaxRatio  float64
}

type Verdict struct {
	Ratio float64
	Level GateLevel
}

// Evaluate classifies the truncated fraction. Above MaxRatio blocks; above
// WarnRatio warns.
func (g Gate) Evaluate(stats extract.Stats) Verdict {
	ratio := stats.TruncatedRatio()
	v := Verdict{Ratio: ratio, Level: GateOK}
	switch {
	case g.MaxRatio > 0 && ratio > g.MaxRatio:
		v.Level = GateBlock
	case g.WarnRatio > 0 && ratio > g.WarnRatio:
		v.Level = GateWarn
	}
	return v
}

// Err returns ErrTruncationLimit for a blocking verdict.
func (v Verdict) Err() error {
	if v.Level != GateBlock {
		return nil
	}
	return fmt.Errorf("%w: %.0f%% of content truncated", ErrTruncationLimit, v.Ratio*100)
}
