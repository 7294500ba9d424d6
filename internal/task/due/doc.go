// Package due decides whether a task should run now.
//
// Evaluate is a pure function of its inputs: it performs no I/O and keeps no
// state. Per-process facts (startup flags, last evaluation time) and metric
// samples are supplied by the caller.
package due
