// Package job defines the stateful representation of a unit of work within
// the pgtask queue lifecycle.
//
// A Job carries the task name and arguments a worker needs to execute it,
// plus the scheduling and delivery metadata (status, attempts, queueing
// lock, owning worker) that a Store maintains on its behalf.
//
// Job values are snapshots returned by a Store. Mutating them does not
// change the underlying queue state; transitions happen only through the
// Store's Defer/Fetch/Finish/CancelJob/ReapStale operations.
package job
