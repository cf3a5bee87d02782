package engine

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/guseggert/uciproc/work"
)

// maxTimeMS is the largest search time that fits in a time.Duration.
const maxTimeMS = uint64(math.MaxInt64 / int64(time.Millisecond))

// Decoder accumulates the engine's output for a single position.
// Feed it one line at a time until it returns a response.
type Decoder struct {
	// Unexpected is called with lines that are neither info nor bestmove. May be nil.
	Unexpected func(line string)

	pos work.Position

	scores work.Matrix[work.Score]
	pvs    work.Matrix[[]work.Uci]

	multipv int
	depth   int
	nodes   uint64
	time    time.Duration
	nps     *uint32
}

func NewDecoder(pos work.Position) *Decoder {
	return &Decoder{pos: pos, multipv: 1}
}

// Feed consumes one line of engine output.
// It returns a response once the terminal bestmove line is seen, and nil before that.
func (d *Decoder) Feed(line string) (*work.PositionResponse, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		d.unexpected(line)
		return nil, nil
	}
	switch fields[0] {
	case "info":
		return nil, d.info(line, fields[1:])
	case "bestmove":
		return d.bestmove(line, fields[1:])
	}
	d.unexpected(line)
	return nil, nil
}

func (d *Decoder) unexpected(line string) {
	if d.Unexpected != nil {
		d.Unexpected(line)
	}
}

func (d *Decoder) bestmove(line string, fields []string) (*work.PositionResponse, error) {
	if _, _, ok := d.scores.Best(); !ok {
		return nil, &ProtocolError{Line: line, Reason: "missing score"}
	}

	var best *work.Uci
	if len(fields) > 0 && fields[0] != "(none)" {
		m, err := work.ParseUci(fields[0])
		if err != nil {
			return nil, &ProtocolError{Line: line, Reason: "invalid bestmove"}
		}
		best = &m
	}

	return &work.PositionResponse{
		Work:       d.pos.Work,
		PositionID: d.pos.PositionID,
		URL:        d.pos.URL,
		BestMove:   best,
		Scores:     d.scores,
		PVs:        d.pvs,
		Depth:      d.depth,
		Time:       d.time,
		Nodes:      d.nodes,
		NPS:        d.nps,
	}, nil
}

func (d *Decoder) info(line string, fields []string) error {
	next := func() (string, bool) {
		if len(fields) == 0 {
			return "", false
		}
		tok := fields[0]
		fields = fields[1:]
		return tok, true
	}
	uint64Field := func(name string, bits int) (uint64, error) {
		tok, ok := next()
		if !ok {
			return 0, &ProtocolError{Line: line, Reason: "expected " + name}
		}
		n, err := strconv.ParseUint(tok, 10, bits)
		if err != nil {
			return 0, &ProtocolError{Line: line, Reason: "expected " + name}
		}
		return n, nil
	}

	for {
		key, ok := next()
		if !ok {
			return nil
		}
		switch key {
		case "multipv":
			n, err := uint64Field("multipv", 8)
			if err != nil {
				return err
			}
			if n == 0 {
				return &ProtocolError{Line: line, Reason: "expected multipv"}
			}
			d.multipv = int(n)
		case "depth":
			n, err := uint64Field("depth", 8)
			if err != nil {
				return err
			}
			d.depth = int(n)
		case "nodes":
			n, err := uint64Field("nodes", 64)
			if err != nil {
				return err
			}
			d.nodes = n
		case "time":
			n, err := uint64Field("time", 63)
			if err != nil {
				return err
			}
			if n > maxTimeMS {
				return &ProtocolError{Line: line, Reason: "expected time"}
			}
			d.time = time.Duration(n) * time.Millisecond
		case "nps":
			// optional, a bad value just means unknown
			d.nps = nil
			if tok, ok := next(); ok {
				if n, err := strconv.ParseUint(tok, 10, 32); err == nil {
					nps := uint32(n)
					d.nps = &nps
				}
			}
		case "score":
			score, err := d.score(line, next)
			if err != nil {
				return err
			}
			d.scores.Set(d.multipv, d.depth, score)
		case "pv":
			pv := make([]work.Uci, 0, len(fields))
			for _, tok := range fields {
				m, err := work.ParseUci(tok)
				if err != nil {
					return &ProtocolError{Line: line, Reason: "invalid pv"}
				}
				pv = append(pv, m)
			}
			fields = nil
			d.pvs.Set(d.multipv, d.depth, pv)
		case "string":
			// free text until the end of the line
			return nil
		}
	}
}

func (d *Decoder) score(line string, next func() (string, bool)) (work.Score, error) {
	kind, _ := next()
	var mk func(int64) work.Score
	switch kind {
	case "cp":
		mk = work.Cp
	case "mate":
		mk = work.Mate
	default:
		return work.Score{}, &ProtocolError{Line: line, Reason: "expected cp or mate"}
	}
	tok, ok := next()
	if !ok {
		return work.Score{}, &ProtocolError{Line: line, Reason: "expected score"}
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return work.Score{}, &ProtocolError{Line: line, Reason: "expected score"}
	}
	return mk(n), nil
}
