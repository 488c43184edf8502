package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "STAGING", TaskStaging.String())
	assert.Equal(t, "RUNNING", TaskRunning.String())
	assert.Equal(t, "FINISHED", TaskFinished.String())
	assert.Equal(t, "FAILED", TaskFailed.String())
	assert.Equal(t, "KILLED", TaskKilled.String())
	assert.Equal(t, "LOST", TaskLost.String())
	assert.Equal(t, "UNKNOWN", TaskState(99).String())
}

func TestTaskStateIsTerminal(t *testing.T) {
	assert.False(t, TaskStaging.IsTerminal())
	assert.False(t, TaskRunning.IsTerminal())
	assert.True(t, TaskFinished.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.True(t, TaskKilled.IsTerminal())
	assert.True(t, TaskLost.IsTerminal())
}

func TestMarathonTaskStatusMirrorsIsTerminal(t *testing.T) {
	assert.False(t, MarathonTaskStatus(TaskRunning))
	assert.True(t, MarathonTaskStatus(TaskFailed))
}
