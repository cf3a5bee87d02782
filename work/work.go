package work

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchID correlates a unit of work with the collaborator that handed it out.
type BatchID string

// NewBatchID returns a random batch id.
func NewBatchID() BatchID { return BatchID(uuid.NewString()) }

// Work is either *Move or *Analysis. No other implementations exist.
type Work interface {
	isWork()
}

// Move asks the engine to play a move at a given strength, optionally on a clock.
type Move struct {
	ID    BatchID    `json:"id"`
	Level SkillLevel `json:"level"`
	Clock *Clock     `json:"clock,omitempty"`
}

// MaxMultiPV is the largest number of search lines an analysis may ask for.
const MaxMultiPV = 255

// Analysis asks the engine to evaluate a position with a node budget.
// Its JSON form carries Timeout in whole milliseconds.
type Analysis struct {
	ID      BatchID
	Nodes   NodeLimit
	Depth   *int
	MultiPV int
	// Timeout bounds how long the collaborator waits for the result. Zero means no limit.
	Timeout time.Duration
}

type analysisJSON struct {
	ID        BatchID   `json:"id"`
	Nodes     NodeLimit `json:"nodes"`
	Depth     *int      `json:"depth,omitempty"`
	MultiPV   int       `json:"multipv"`
	TimeoutMS int64     `json:"timeout"`
}

func (a Analysis) MarshalJSON() ([]byte, error) {
	return json.Marshal(analysisJSON{
		ID:        a.ID,
		Nodes:     a.Nodes,
		Depth:     a.Depth,
		MultiPV:   a.MultiPV,
		TimeoutMS: a.Timeout.Milliseconds(),
	})
}

func (a *Analysis) UnmarshalJSON(b []byte) error {
	var j analysisJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	if j.MultiPV < 0 || j.MultiPV > MaxMultiPV {
		return fmt.Errorf("multipv %d out of range [1,%d]", j.MultiPV, MaxMultiPV)
	}
	if j.TimeoutMS < 0 {
		return fmt.Errorf("negative timeout %d", j.TimeoutMS)
	}
	*a = Analysis{
		ID:      j.ID,
		Nodes:   j.Nodes,
		Depth:   j.Depth,
		MultiPV: j.MultiPV,
		Timeout: time.Duration(j.TimeoutMS) * time.Millisecond,
	}
	return nil
}

func (*Move) isWork()     {}
func (*Analysis) isWork() {}

// WorkID returns the batch id of w.
func WorkID(w Work) BatchID {
	switch w := w.(type) {
	case *Move:
		return w.ID
	case *Analysis:
		return w.ID
	}
	return ""
}

// Validate reports whether w can be handed to an engine.
func Validate(w Work) error {
	switch w := w.(type) {
	case *Move:
		if w == nil {
			break
		}
		if !w.Level.Valid() {
			return fmt.Errorf("skill level %d out of range [%d,%d]", w.Level, MinSkillLevel, MaxSkillLevel)
		}
		return nil
	case *Analysis:
		if w == nil {
			break
		}
		if w.MultiPV < 0 || w.MultiPV > MaxMultiPV {
			return fmt.Errorf("multipv %d out of range [1,%d]", w.MultiPV, MaxMultiPV)
		}
		if w.Depth != nil && *w.Depth < 0 {
			return fmt.Errorf("negative depth %d", *w.Depth)
		}
		return nil
	}
	return errors.New("position has no work")
}

// MultiPV returns the number of search lines requested by w. Moves always use one line.
func MultiPV(w Work) int {
	if a, ok := w.(*Analysis); ok && a.MultiPV > 1 {
		return a.MultiPV
	}
	return 1
}

// Clock is the game clock at the time a move is requested.
// Its JSON form is in whole milliseconds, like the times UCI itself uses.
type Clock struct {
	WTime time.Duration
	BTime time.Duration
	Inc   time.Duration
}

type clockJSON struct {
	WTimeMS int64 `json:"wtime"`
	BTimeMS int64 `json:"btime"`
	IncMS   int64 `json:"inc"`
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(clockJSON{
		WTimeMS: c.WTime.Milliseconds(),
		BTimeMS: c.BTime.Milliseconds(),
		IncMS:   c.Inc.Milliseconds(),
	})
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var j clockJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*c = Clock{
		WTime: time.Duration(j.WTimeMS) * time.Millisecond,
		BTime: time.Duration(j.BTimeMS) * time.Millisecond,
		Inc:   time.Duration(j.IncMS) * time.Millisecond,
	}
	return nil
}

// NodeLimit holds node budgets for each evaluation flavor.
type NodeLimit struct {
	Classical uint64 `json:"classical"`
	NNUE      uint64 `json:"nnue"`
}

func (n NodeLimit) Get(flavor EvalFlavor) uint64 {
	if flavor.IsNNUE() {
		return n.NNUE
	}
	return n.Classical
}

// SkillLevel is a playing strength between 1 and 8.
type SkillLevel int

const (
	MinSkillLevel SkillLevel = 1
	MaxSkillLevel SkillLevel = 8
)

var (
	skillLevels = [...]int{-9, -5, -1, 3, 7, 11, 16, 20}
	moveTimes   = [...]time.Duration{50, 100, 150, 200, 300, 400, 500, 1000}
	moveDepths  = [...]int{5, 5, 5, 5, 5, 8, 13, 22}
)

func (l SkillLevel) Valid() bool { return l >= MinSkillLevel && l <= MaxSkillLevel }

func (l SkillLevel) index() int {
	switch {
	case l < MinSkillLevel:
		return 0
	case l > MaxSkillLevel:
		return int(MaxSkillLevel) - 1
	}
	return int(l) - 1
}

// SkillLevel is the value of the engine's "Skill Level" option.
func (l SkillLevel) SkillLevel() int { return skillLevels[l.index()] }

// Time is the move time allowance.
func (l SkillLevel) Time() time.Duration { return moveTimes[l.index()] * time.Millisecond }

// Depth is the search depth allowance.
func (l SkillLevel) Depth() int { return moveDepths[l.index()] }

func (l *SkillLevel) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if !SkillLevel(n).Valid() {
		return fmt.Errorf("skill level %d out of range [%d,%d]", n, MinSkillLevel, MaxSkillLevel)
	}
	*l = SkillLevel(n)
	return nil
}
