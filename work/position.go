package work

import (
	"encoding/json"
	"fmt"
	"time"
)

// EngineFlavor selects which engine binary a position is meant for.
type EngineFlavor int

const (
	// Official is upstream Stockfish, which evaluates with NNUE.
	Official EngineFlavor = iota
	// MultiVariant is Fairy-Stockfish, which supports UCI_Variant.
	MultiVariant
)

func (f EngineFlavor) String() string {
	if f == MultiVariant {
		return "multi-variant"
	}
	return "official"
}

func (f EngineFlavor) EvalFlavor() EvalFlavor {
	if f == MultiVariant {
		return Classical
	}
	return NNUE
}

func (f EngineFlavor) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *EngineFlavor) UnmarshalText(b []byte) error {
	switch string(b) {
	case "official":
		*f = Official
	case "multi-variant":
		*f = MultiVariant
	default:
		return fmt.Errorf("unknown engine flavor %q", b)
	}
	return nil
}

// EvalFlavor is the evaluation mode the engine runs with.
type EvalFlavor int

const (
	NNUE EvalFlavor = iota
	Classical
)

func (f EvalFlavor) IsNNUE() bool { return f == NNUE }

// Variant is a lichess variant key, e.g. "standard" or "kingOfTheHill".
type Variant string

const (
	Standard      Variant = "standard"
	Chess960      Variant = "chess960"
	FromPosition  Variant = "fromPosition"
	Antichess     Variant = "antichess"
	Atomic        Variant = "atomic"
	Crazyhouse    Variant = "crazyhouse"
	Horde         Variant = "horde"
	KingOfTheHill Variant = "kingOfTheHill"
	RacingKings   Variant = "racingKings"
	ThreeCheck    Variant = "threeCheck"
)

// UCI returns the value for the engine's UCI_Variant option.
func (v Variant) UCI() string {
	switch v {
	case "", Standard, Chess960, FromPosition:
		return "chess"
	case KingOfTheHill:
		return "kingofthehill"
	case RacingKings:
		return "racingkings"
	case ThreeCheck:
		return "3check"
	}
	return string(v)
}

// Position is a single work order: where to start, what to do and how.
type Position struct {
	Work       Work
	PositionID int
	URL        string
	Flavor     EngineFlavor
	Variant    Variant
	RootFen    string
	Moves      []Uci
}

// PositionResponse is the engine's answer to a Position.
type PositionResponse struct {
	Work       Work
	PositionID int
	URL        string
	BestMove   *Uci
	Scores     Matrix[Score]
	PVs        Matrix[[]Uci]
	Depth      int
	Time       time.Duration
	Nodes      uint64
	NPS        *uint32
}

// PositionFailed is returned instead of a response when a position could not be served.
type PositionFailed struct {
	BatchID BatchID
	Err     error
}

func (e *PositionFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("position of batch %s failed: %s", e.BatchID, e.Err)
	}
	return fmt.Sprintf("position of batch %s failed", e.BatchID)
}

func (e *PositionFailed) Unwrap() error { return e.Err }

// workEnvelope is the JSON form of Work.
type workEnvelope struct {
	Type     string    `json:"type"`
	Move     *Move     `json:"move,omitempty"`
	Analysis *Analysis `json:"analysis,omitempty"`
}

func wrapWork(w Work) (workEnvelope, error) {
	switch w := w.(type) {
	case *Move:
		return workEnvelope{Type: "move", Move: w}, nil
	case *Analysis:
		return workEnvelope{Type: "analysis", Analysis: w}, nil
	}
	return workEnvelope{}, fmt.Errorf("unsupported work %T", w)
}

func (e workEnvelope) unwrap() (Work, error) {
	switch {
	case e.Type == "move" && e.Move != nil:
		return e.Move, nil
	case e.Type == "analysis" && e.Analysis != nil:
		return e.Analysis, nil
	}
	return nil, fmt.Errorf("invalid work of type %q", e.Type)
}

type positionJSON struct {
	Work       workEnvelope `json:"work"`
	PositionID int          `json:"position_id"`
	URL        string       `json:"url,omitempty"`
	Flavor     EngineFlavor `json:"flavor"`
	Variant    Variant      `json:"variant"`
	RootFen    string       `json:"root_fen"`
	Moves      []Uci        `json:"moves"`
}

func (p Position) MarshalJSON() ([]byte, error) {
	w, err := wrapWork(p.Work)
	if err != nil {
		return nil, err
	}
	moves := p.Moves
	if moves == nil {
		moves = []Uci{}
	}
	return json.Marshal(positionJSON{
		Work:       w,
		PositionID: p.PositionID,
		URL:        p.URL,
		Flavor:     p.Flavor,
		Variant:    p.Variant,
		RootFen:    p.RootFen,
		Moves:      moves,
	})
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var j positionJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	w, err := j.Work.unwrap()
	if err != nil {
		return err
	}
	if err := Validate(w); err != nil {
		return err
	}
	*p = Position{
		Work:       w,
		PositionID: j.PositionID,
		URL:        j.URL,
		Flavor:     j.Flavor,
		Variant:    j.Variant,
		RootFen:    j.RootFen,
		Moves:      j.Moves,
	}
	return nil
}

type positionResponseJSON struct {
	Work       workEnvelope  `json:"work"`
	PositionID int           `json:"position_id"`
	URL        string        `json:"url,omitempty"`
	BestMove   *Uci          `json:"best_move"`
	Scores     Matrix[Score] `json:"scores"`
	PVs        Matrix[[]Uci] `json:"pvs"`
	Depth      int           `json:"depth"`
	TimeMS     int64         `json:"time"`
	Nodes      uint64        `json:"nodes"`
	NPS        *uint32       `json:"nps,omitempty"`
}

func (r PositionResponse) MarshalJSON() ([]byte, error) {
	w, err := wrapWork(r.Work)
	if err != nil {
		return nil, err
	}
	return json.Marshal(positionResponseJSON{
		Work:       w,
		PositionID: r.PositionID,
		URL:        r.URL,
		BestMove:   r.BestMove,
		Scores:     r.Scores,
		PVs:        r.PVs,
		Depth:      r.Depth,
		TimeMS:     r.Time.Milliseconds(),
		Nodes:      r.Nodes,
		NPS:        r.NPS,
	})
}

func (r *PositionResponse) UnmarshalJSON(b []byte) error {
	var j positionResponseJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	w, err := j.Work.unwrap()
	if err != nil {
		return err
	}
	*r = PositionResponse{
		Work:       w,
		PositionID: j.PositionID,
		URL:        j.URL,
		BestMove:   j.BestMove,
		Scores:     j.Scores,
		PVs:        j.PVs,
		Depth:      j.Depth,
		Time:       time.Duration(j.TimeMS) * time.Millisecond,
		Nodes:      j.Nodes,
		NPS:        j.NPS,
	}
	return nil
}
