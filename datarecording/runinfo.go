package datarecording

import (
	"os"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05.000000000"

// RunInfoEntry is one property of a recorded run.
type RunInfoEntry struct {
	Property string
	Value    string
}

// RunInfoRecorder records when and how a run was started and finished.
type RunInfoRecorder struct {
	tableName string
	recorder  DataRecorder
	entries   []RunInfoEntry
}

// NewRunInfoRecorder creates the run_info table in recorder.
func NewRunInfoRecorder(recorder DataRecorder) *RunInfoRecorder {
	r := &RunInfoRecorder{
		tableName: "run_info",
		recorder:  recorder,
	}

	recorder.CreateTable(r.tableName, RunInfoEntry{})

	return r
}

// Set adds a property of the run.
func (r *RunInfoRecorder) Set(property, value string) {
	r.entries = append(r.entries, RunInfoEntry{property, value})
}

// Start records the start time and the command line.
func (r *RunInfoRecorder) Start() {
	r.Set("Start Time", time.Now().Format(timeLayout))
	r.Set("Command", strings.Join(os.Args, " "))

	if cwd, err := os.Getwd(); err == nil {
		r.Set("Working Directory", cwd)
	}
}

// End writes all the properties together with the end time.
func (r *RunInfoRecorder) End() {
	r.Set("End Time", time.Now().Format(timeLayout))

	for _, entry := range r.entries {
		r.recorder.InsertData(r.tableName, entry)
	}

	r.entries = nil

	r.recorder.Flush()
}
