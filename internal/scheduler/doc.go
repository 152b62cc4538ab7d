// Package scheduler runs one update cycle per frame: it snapshots every
// enabled module's state into the immutable per-cycle StateMap, fans the
// due modules out across a bounded worker pool, waits for every task at a
// barrier, and hands the collected results back to the caller's thread for
// commit.
//
// The cycle is the unit of consistency. A task sees its own state as a
// mutable copy and its dependencies as read-only snapshots frozen at cycle
// start, so tasks within a cycle are independent by construction and may
// run in any order. Exactly one cycle is in flight at a time: StartUpdate
// refuses to dispatch until the previous cycle's results have been fetched.
package scheduler
