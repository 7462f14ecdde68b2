package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	reports := []Report{
		NewReport("root", kindSerial, StatusFailed, errors.New("boom")),
		NewReport("open", "open_channel", StatusPassed, nil),
		NewReport("checks", kindParallel, StatusPassed, nil),
		NewReport("transfer", "transfer", StatusFailed, errors.New("boom")),
		NewReport("wait", "wait_blocks", StatusTimedOut, errors.New("timed out")),
		NewReport("close", "close_channel", StatusSkipped, nil),
	}

	s := Summarize(reports)
	assert.False(t, s.Passed)
	// Group reports stay out of the counts.
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.TimedOut)
	assert.Equal(t, 1, s.Skipped)
	require.Len(t, s.Failures, 2)
	assert.Equal(t, "transfer", s.Failures[0].Name)
	assert.Equal(t, "wait", s.Failures[1].Name)

	assert.Equal(t, "FAIL: 4 tasks, 1 failed, 1 timed out, 1 skipped", s.String())
}

func TestSummarize_SkippedAloneDoesNotFail(t *testing.T) {
	t.Parallel()

	s := Summarize([]Report{
		NewReport("open", "open_channel", StatusPassed, nil),
		NewReport("close", "close_channel", StatusSkipped, nil),
	})
	assert.True(t, s.Passed)
	assert.Equal(t, "PASS: 2 tasks, 0 failed, 0 timed out, 1 skipped", s.String())
}

func TestMemoryReporter(t *testing.T) {
	t.Parallel()

	m := NewMemoryReporter()
	require.NoError(t, m.AddReport(NewReport("a", "transfer", StatusPassed, nil)))
	require.NoError(t, m.AddReport(NewReport("b", "transfer", StatusFailed, errors.New("boom"))))

	reports, err := m.GetReports()
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "a", reports[0].Name)
	require.NotNil(t, reports[1].Err)
	assert.Equal(t, "boom", reports[1].Err.Message)

	// The returned slice is a copy.
	reports[0].Name = "mutated"
	again, err := m.GetReports()
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Name)
}
