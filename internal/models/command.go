package models

import (
	"time"
)

// JobType names a unit of work the worker understands.
type JobType string

const (
	JobTransform  JobType = "transform"
	JobBuildModel JobType = "build_model"
	JobTrain      JobType = "train"
	JobShutdown   JobType = "shutdown"
)

// Valid reports whether j is one of the known job types.
func (j JobType) Valid() bool {
	switch j {
	case JobTransform, JobBuildModel, JobTrain, JobShutdown:
		return true
	}
	return false
}

// ResultType tags the outcome of a job.
type ResultType string

const (
	ResultSuccess ResultType = "success"
	ResultError   ResultType = "error"
)

// Command travels caller -> worker.
type Command struct {
	ID        string    `json:"id"`
	Job       JobType   `json:"command"`
	CreatedAt time.Time `json:"createdAt"`
}

// Result travels worker -> caller. Message is empty on a plain success,
// carries the error text on failure. History is only set by train.
type Result struct {
	ID         string     `json:"id"`
	Type       ResultType `json:"type"`
	Job        JobType    `json:"job"`
	Message    string     `json:"message,omitempty"`
	History    History    `json:"history,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// Succeeded reports whether the job finished without error.
func (r Result) Succeeded() bool {
	return r.Type == ResultSuccess
}

// History maps a metric name to its per-epoch values.
type History map[string][]float64

const (
	MetricAccuracy = "accuracy"
	MetricLoss     = "loss"
)

// Epochs returns the number of recorded epochs.
func (h History) Epochs() int {
	n := 0
	for _, v := range h {
		if len(v) > n {
			n = len(v)
		}
	}
	return n
}

// Last returns the final value of a metric, or false if it was never recorded.
func (h History) Last(metric string) (float64, bool) {
	v := h[metric]
	if len(v) == 0 {
		return 0, false
	}
	return v[len(v)-1], true
}
