// Package pipeline implements the chapter stage state machine and the
// next-step resolver.
//
// The resolver (Resolver.Next) is a pure function of the checkpoint, the
// existence of staged artifacts and the policy gate verdicts: calling it
// repeatedly against unchanged inputs always yields the same step.
//
// The state machine (Advancer.Advance) moves the checkpoint forward after a
// step's outputs validate. It re-reads the checkpoint under the project lock
// and enforces the one-attempt budget of each fix stage:
//
//	draft     -> drafting   (resets all fix counters)
//	summarize -> drafted
//	refine    -> refined
//	judge     -> judged
//	title-fix -> refined    (counts the attempt, drops the stale eval)
//	hook-fix  -> refined    (counts the attempt, drops the stale eval)
//
// review is manual and commit belongs to the commit engine; both are rejected.
package pipeline
