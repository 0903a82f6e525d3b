// Package strategy decides how hooks run. The selector maps run
// context to an execution mode, the planner builds per-iteration
// execution plans, and both are pure functions: calling them twice
// with the same inputs yields the same plan.
package strategy
