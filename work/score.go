package work

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ScoreKind int

const (
	ScoreCp ScoreKind = iota
	ScoreMate
)

// Score is an evaluation as reported by the engine, either in centipawns or
// as moves to mate. The sign is kept exactly as the engine reported it.
type Score struct {
	Kind  ScoreKind
	Value int64
}

func Cp(n int64) Score   { return Score{Kind: ScoreCp, Value: n} }
func Mate(n int64) Score { return Score{Kind: ScoreMate, Value: n} }

func (s Score) String() string {
	if s.Kind == ScoreMate {
		return fmt.Sprintf("mate %d", s.Value)
	}
	return fmt.Sprintf("cp %d", s.Value)
}

type scoreJSON struct {
	Cp   *int64 `json:"cp,omitempty"`
	Mate *int64 `json:"mate,omitempty"`
}

func (s Score) MarshalJSON() ([]byte, error) {
	v := s.Value
	if s.Kind == ScoreMate {
		return json.Marshal(scoreJSON{Mate: &v})
	}
	return json.Marshal(scoreJSON{Cp: &v})
}

func (s *Score) UnmarshalJSON(b []byte) error {
	var j scoreJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	switch {
	case j.Mate != nil:
		*s = Mate(*j.Mate)
	case j.Cp != nil:
		*s = Cp(*j.Cp)
	default:
		return errors.New("score has neither cp nor mate")
	}
	return nil
}
