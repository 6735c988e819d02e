// Package render implements the live chart state for a monitoring session.
//
// A [Renderer] watches a set of variables and, once per tick, pulls the rows
// appended since its last checkpoint, maintains bounded sliding
// [SeriesWindow] buffers (FIFO eviction, most recent data always wins
// space), and widens the chart view to cover the new data. Memory and CPU
// stay bounded no matter how large the session log grows, because each tick
// touches only the increment.
//
// Presentation state (the view extents and the figure size) survives
// session restarts through the store's parameter table, keyed by the sorted
// watched variable set.
//
// Users of the labwatch library should not need to interact with this
// package directly; charts are configured through the labwatch package.
package render
