// Package runtime implements the cooperative scheduler for a monitoring
// session.
//
// A [Runtime] owns the session's shared stop flag and executes a set of
// [Task] values concurrently under it. Tasks come in two shapes, tagged at
// registration: repeatable units the runtime loops for as long as the
// session runs, and self-managed units that own their loop and watch the
// flag themselves. The flag makes a single terminal transition on the first
// interrupt signal, context cancellation, or task failure.
//
// Shutdown is cooperative: no task is ever terminated forcibly. The runtime
// waits for every task to observe the flag and return, which guarantees each
// one the chance to flush state before the process exits.
//
// Users of the labwatch library should not need to interact with this
// package directly.
package runtime
