// Command dataengine is a thin smoke-test harness: it loads configuration,
// wires up the storage, embedding, indexing, and maintenance layers, and
// registers one demo entity type so the write pipeline and integrity sweep
// can be exercised end to end.
package main

import "time"

// document is the demo entity registered against the engine. It exercises
// every cross-cutting field flag the write pipeline understands: a tracked
// change-logged title, an integrity-hashed body, a timeseries status, and an
// embeddable summary.
type document struct {
	ID        string    `dataengine:"key"`
	Title     string    `dataengine:"tracked,integrity"`
	Body      string    `dataengine:"tracked,integrity"`
	Status    string    `dataengine:"tracked,timeseries"`
	Summary   string    `dataengine:"embed=1:{Summary}"`
	UpdatedAt time.Time `dataengine:"tracked"`
}
