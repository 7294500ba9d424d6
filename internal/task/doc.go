// Package task defines the maintenance task model shared by the store,
// the due evaluator, the dispatcher and the scheduler loop.
//
// A Task pairs exactly one Action with exactly one Schedule. Both are closed
// tagged variants: Kind selects the variant and only the matching payload is kept.
package task
