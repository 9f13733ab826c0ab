// Package scheduler is the public face of the periodic task engine.
//
// A Scheduler owns its own uid allocator, due queue, mutation ledger and
// worker pool; nothing is process-global, so several schedulers can coexist.
//
// Cancel and UpdateInterval are deferred: they record an intent that the
// worker applies the next time the task's queued instance is popped. An
// instance that is already queued still fires at its original due time when
// its interval is changed; its successor uses the new interval.
package scheduler
