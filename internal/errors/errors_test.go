package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderSetsFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("queue full after %dms", 10).
		Component("dispatch").
		Category(CategoryDispatch).
		Priority("bogus").
		Context("queue_size", 10).
		Build()

	assert.Equal(t, "dispatch", ee.GetComponent())
	assert.Equal(t, CategoryDispatch, ee.Category)
	assert.Equal(t, PriorityMedium, ee.Priority)
	assert.Equal(t, 10, ee.GetContext()["queue_size"])
	assert.True(t, IsCategory(ee, CategoryDispatch))
	assert.False(t, IsCategory(ee, CategoryBuffer))
}

func TestEnhancedErrorUnwrap(t *testing.T) {
	sentinel := NewStd("sentinel")
	ee := New(fmt.Errorf("wrapped: %w", sentinel)).Category(CategoryBuffer).Build()

	require.ErrorIs(t, ee, sentinel)
	assert.ErrorIs(t, ee, &EnhancedError{Category: CategoryBuffer})
}

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	r := &recordingReporter{}
	SetTelemetryReporter(r)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("sink write failed").Component("sink").Build()

	require.Len(t, r.reported, 1)
	assert.Same(t, ee, r.reported[0])
	assert.Equal(t, CategoryAudioSink, ee.Category)
	assert.True(t, ee.IsReported())
}

func TestScrubMessage(t *testing.T) {
	got := scrubMessage("connect tcp://user:pw@broker:1883 failed, see https://x.io/a?token=1")
	assert.NotContains(t, got, "user:pw")
	assert.Contains(t, got, "https://x.io/a?[REDACTED]")

	got = scrubMessage("peer 00:1A:7D:DA:71:13 disconnected password=hunter2")
	assert.NotContains(t, got, "00:1A:7D")
	assert.NotContains(t, got, "hunter2")
}
