package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func execute(typ ResultType) Result {
	return Result{ID: "1", Job: JobTrain, Type: typ}
}

func TestResultSucceeded(t *testing.T) {
	// callable on a returned value as well as through a pointer
	assert.True(t, execute(ResultSuccess).Succeeded())
	assert.False(t, execute(ResultError).Succeeded())

	res := &Result{Type: ResultSuccess}
	assert.True(t, res.Succeeded())
}

func TestJobTypeValid(t *testing.T) {
	for _, j := range []JobType{JobTransform, JobBuildModel, JobTrain, JobShutdown} {
		assert.True(t, j.Valid(), j)
	}
	assert.False(t, JobType("predict").Valid())
}

func TestHistory(t *testing.T) {
	h := History{MetricLoss: {0.9, 0.5}, MetricAccuracy: {0.5, 0.75, 1}}
	assert.Equal(t, 3, h.Epochs())

	last, ok := h.Last(MetricLoss)
	assert.True(t, ok)
	assert.Equal(t, 0.5, last)

	_, ok = History{}.Last(MetricLoss)
	assert.False(t, ok)
}
