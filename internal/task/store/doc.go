// Package store owns the task set and its single JSON persistence document.
//
// Every mutation is serialized behind one mutex and followed by an atomic
// whole-document save (temp file + rename). Save failures are logged and
// retried on the next mutation; they never fail the mutation itself.
package store
