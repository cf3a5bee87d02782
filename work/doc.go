/*
Package work defines the work orders handed to an engine actor and the responses it produces.

Positions and moves are opaque to this package: a FEN is passed through untouched, and moves are only checked for UCI syntax.
*/
package work
