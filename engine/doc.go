/*
Package engine drives a single UCI engine process (Stockfish or Fairy-Stockfish) through an actor.

An Actor owns the process and a Handle feeds it positions. The actor serves one position at a time:

 1. On the first position, the process is spawned in its own process group and configured once (EvalFile, UCI_Chess960, isready).
 2. For each position, EncodePosition's commands are written, and the engine's output is fed line by line to a Decoder until bestmove.
 3. The response is sent back to the caller that submitted the position.

While idle, the actor waits for whichever comes first: the next position or the exit of the process.
While busy, it also watches for the caller giving up.

Protocol and I/O errors are fatal: Run returns the error and the process is killed.
A fresh actor is expected to be started by whoever supervises it.

A caller giving up is not fatal. The engine cannot be interrupted mid-search here, so the abandoned search is left to run out its own budget,
and its output, up to and including its bestmove, is discarded before the next position is started.
*/
package engine
