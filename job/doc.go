// Package job defines the job model, its state machine, typed job
// definitions, the handler registry, and the persistence contract.
//
// A job moves through a finite state machine:
//
//	waiting → active → completed
//	                 → delayed  (failed with retry budget left; becomes
//	                             waiting again once its delay elapses)
//	                 → failed   (budget exhausted; an immutable snapshot is
//	                             pushed to the dead-letter queue)
//
// Dequeue ordering is total: priority descending, then FIFO by original
// enqueue time within equal priority. A job's position among same-priority
// peers is anchored to when it was first enqueued, not to when it was last
// retried.
package job
