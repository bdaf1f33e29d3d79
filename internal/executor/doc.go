// Package executor resolves a query tree tick by tick so that the fetches of
// sibling and cousin fields coalesce into one storage call per entity type.
//
// # Overview
//
// An Operation (see ParseQuery) is first planned against the Schema: every
// selection must name a defined field, leaves take no selection and objects
// need one. The plan is handed to the complexity guard; a rejected operation
// returns before any resolver runs, so nothing reaches storage.
//
// # Execution Model
//
// Execution advances in waves and ticks:
//
//	A. Wave
//	   - Every runnable field runs its resolver. Projection fields (Resolve ==
//	     nil) complete inline without a task.
//	   - A resolver returns a Result: a value, an error, or a continuation
//	     that waits on a future from the request cache (Request.Load,
//	     LoadMany, Query, Connection).
//	   - Values complete immediately. Object values expand their selections,
//	     and the fields found there join the same wave.
//
//	B. Tick
//	   - When no field is runnable, the scheduler flushes exactly once: one
//	     storage call per entity type plus one per distinct collection query.
//	   - Continuations whose futures resolved become runnable and the next
//	     wave starts.
//
// The loop ends when no continuation is waiting. A tree whose resolvers wait
// on d levels of dependent fetches needs d ticks regardless of its width.
//
// # Errors
//
// A failed resolver, a failed future, or a value of the wrong shape nulls
// the field and records a located error carrying extensions.code. Siblings
// and other subtrees still complete. Request-level failures (invalid query,
// too expensive) produce no data.
//
// # Cancellation
//
// A done context cancels the scheduler at the next flush: every pending
// fetch resolves with fault.ErrCancelled and the affected fields fail.
package executor
