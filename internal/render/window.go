package render

import (
	"github.com/labwatch/labwatch/internal/store"
)

// DefaultCapacity bounds a series window when no capacity is configured.
const DefaultCapacity = 1000

// XY is one chart point: hours elapsed since the variable's anchor, and the
// logged value.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SeriesWindow is the renderer-local sliding window over one variable.
//
// The window holds at most capacity points; when a new batch would exceed
// it, the oldest points are discarded from the front so the most recent data
// always wins space. The anchor is the variable's first-ever-seen timestamp,
// fixed once and never recomputed; x values are hours elapsed since it.
// The checkpoint is the newest timestamp consumed so far and drives the
// incremental ReadSince pull.
type SeriesWindow struct {
	capacity   int
	checkpoint float64
	anchor     float64
	anchored   bool
	points     []XY
}

// NewSeriesWindow creates a window bounded to capacity points. A
// non-positive capacity falls back to [DefaultCapacity].
func NewSeriesWindow(capacity int) *SeriesWindow {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SeriesWindow{capacity: capacity}
}

// Checkpoint returns the newest timestamp consumed so far. Zero until the
// first batch arrives.
func (w *SeriesWindow) Checkpoint() float64 {
	return w.checkpoint
}

// Len returns the number of points currently held.
func (w *SeriesWindow) Len() int {
	return len(w.points)
}

// Points returns a copy of the window's points, oldest first.
func (w *SeriesWindow) Points() []XY {
	cp := make([]XY, len(w.points))
	copy(cp, w.points)
	return cp
}

// Extend consumes a batch of newly read samples: anchors on the first batch,
// converts timestamps to elapsed hours, appends, evicts from the front past
// capacity, and advances the checkpoint. Empty batches are no-ops.
func (w *SeriesWindow) Extend(batch []store.Point) {
	if len(batch) == 0 {
		return
	}

	if !w.anchored {
		w.anchor = batch[0].Timestamp
		w.anchored = true
	}

	for _, p := range batch {
		w.points = append(w.points, XY{
			X: (p.Timestamp - w.anchor) / 3600,
			Y: p.Value,
		})
	}
	if excess := len(w.points) - w.capacity; excess > 0 {
		w.points = append(w.points[:0], w.points[excess:]...)
	}

	w.checkpoint = batch[len(batch)-1].Timestamp
}

// Bounds returns the min/max of the window's x and y values. ok is false
// when the window is empty.
func (w *SeriesWindow) Bounds() (xmin, xmax, ymin, ymax float64, ok bool) {
	if len(w.points) == 0 {
		return 0, 0, 0, 0, false
	}

	xmin, xmax = w.points[0].X, w.points[len(w.points)-1].X
	ymin, ymax = w.points[0].Y, w.points[0].Y
	for _, p := range w.points {
		if p.Y < ymin {
			ymin = p.Y
		}
		if p.Y > ymax {
			ymax = p.Y
		}
	}
	return xmin, xmax, ymin, ymax, true
}
