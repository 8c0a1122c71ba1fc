package executor

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_EstimatedCost(t *testing.T) {
	e, err := NewEngine(1)
	require.NoError(t, err)

	assert.Equal(t, 100.0, e.EstimatedCost("unseen"))

	e.observe("ds_0", 40*time.Millisecond)
	e.observe("ds_0", 60*time.Millisecond)
	assert.Equal(t, 50.0, e.EstimatedCost("ds_0"))
}

func TestEngine_ScheduleMostExpensiveFirst(t *testing.T) {
	e, err := NewEngine(1)
	require.NoError(t, err)

	e.observe("fast", 10*time.Millisecond)
	e.observe("slow", 500*time.Millisecond)

	units := []Unit{
		{DataSourceName: "fast", SQL: "1"},
		{DataSourceName: "unseen", SQL: "2"},
		{DataSourceName: "slow", SQL: "3"},
		{DataSourceName: "fast", SQL: "4"},
		{DataSourceName: "unseen", SQL: "5"},
	}

	var got []string
	for _, u := range e.schedule(units) {
		got = append(got, u.SQL)
	}

	expected := []string{"3", "2", "5", "1", "4"}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestConnectionCount(t *testing.T) {
	assert.Equal(t, 2, connectionCount([]Unit{
		{DataSourceName: "ds_0"},
		{DataSourceName: "ds_1"},
		{DataSourceName: "ds_0"},
	}))
}
