// Package scheduler is the loop that drives the task set.
//
// A robfig/cron ticker fires every Config.Tick. Each tick snapshots the store,
// asks the due evaluator about every task and executes the due ones one at a
// time through the dispatcher, recording each outcome in the store and the run
// journal. Ticks and manual runs share one execution gate, so actions never
// overlap.
package scheduler
