// Package scheduler runs a fixed set of recurring jobs for the lifetime of
// the process.
//
// Every job gets its own execution loop: sleep one interval, run, repeat.
// A failing or panicking run is logged and the loop keeps going; loops never
// share locks and a job never overlaps with itself. If a run takes longer
// than the interval the next run starts as soon as the previous one returns,
// without catching up missed ticks. Loops end when the context passed to
// Start is cancelled.
package scheduler
