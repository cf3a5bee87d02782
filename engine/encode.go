package engine

import (
	"strconv"
	"strings"

	"github.com/guseggert/uciproc/work"
)

// EncodeInit returns the commands that configure a freshly spawned engine, ending with isready.
func EncodeInit(evalFile string) []string {
	var cmds []string
	if evalFile != "" {
		cmds = append(cmds, "setoption name EvalFile value "+evalFile)
	}
	return append(cmds,
		"setoption name UCI_Chess960 value true",
		"isready",
	)
}

// EncodePosition returns the commands that reset the engine, set up pos and start the search.
func EncodePosition(pos *work.Position) []string {
	cmds := []string{
		"ucinewgame",
		"setoption name Use NNUE value " + strconv.FormatBool(pos.Flavor.EvalFlavor().IsNNUE()),
	}
	if pos.Flavor == work.MultiVariant {
		cmds = append(cmds, "setoption name UCI_Variant value "+pos.Variant.UCI())
	}
	cmds = append(cmds, "setoption name MultiPV value "+strconv.Itoa(work.MultiPV(pos.Work)))

	position := []string{"position", "fen", pos.RootFen, "moves"}
	for _, m := range pos.Moves {
		position = append(position, m.String())
	}
	cmds = append(cmds, strings.Join(position, " "))

	switch w := pos.Work.(type) {
	case *work.Move:
		cmds = append(cmds,
			"setoption name UCI_AnalyseMode value false",
			"setoption name Skill Level value "+strconv.Itoa(w.Level.SkillLevel()),
		)
		goCmd := []string{
			"go",
			"movetime", millis(w.Level.Time().Milliseconds()),
			"depth", strconv.Itoa(w.Level.Depth()),
		}
		if w.Clock != nil {
			goCmd = append(goCmd,
				"wtime", millis(w.Clock.WTime.Milliseconds()),
				"btime", millis(w.Clock.BTime.Milliseconds()),
				"winc", millis(w.Clock.Inc.Milliseconds()),
				"binc", millis(w.Clock.Inc.Milliseconds()),
			)
		}
		cmds = append(cmds, strings.Join(goCmd, " "))
	case *work.Analysis:
		cmds = append(cmds,
			"setoption name UCI_AnalyseMode value true",
			"setoption name Skill Level value 20",
		)
		goCmd := []string{
			"go",
			"nodes", strconv.FormatUint(w.Nodes.Get(pos.Flavor.EvalFlavor()), 10),
		}
		if w.Depth != nil {
			goCmd = append(goCmd, "depth", strconv.Itoa(*w.Depth))
		}
		cmds = append(cmds, strings.Join(goCmd, " "))
	}
	return cmds
}

func millis(ms int64) string { return strconv.FormatInt(ms, 10) }
