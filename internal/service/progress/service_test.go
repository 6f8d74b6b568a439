package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatreel/beatreel/internal/models"
)

func testJob(jobType models.JobType) *models.Job {
	return &models.Job{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Type:      jobType,
		SongID:    models.NewULID(),
		Status:    models.JobStatusRunning,
	}
}

func TestServicePublishesToSubscriber(t *testing.T) {
	svc := NewService(nil)

	sub := svc.Subscribe(nil)
	defer svc.Unsubscribe(sub.ID)

	job := testJob(models.JobTypeSongAnalysis)
	svc.NotifyJobProgress(job, "beat_detection", 25)

	select {
	case ev := <-sub.Events:
		assert.Equal(t, EventTypeProgress, ev.EventType)
		assert.Equal(t, job.ID, ev.JobID)
		assert.Equal(t, "beat_detection", ev.Step)
		assert.Equal(t, 25, ev.Progress)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestServiceFilterBySong(t *testing.T) {
	svc := NewService(nil)

	wanted := testJob(models.JobTypeClipGeneration)
	other := testJob(models.JobTypeClipGeneration)

	sub := svc.Subscribe(&Filter{SongID: &wanted.SongID})
	defer svc.Unsubscribe(sub.ID)

	svc.NotifyJobProgress(other, "generating", 10)
	svc.NotifyJobProgress(wanted, "generating", 50)

	select {
	case ev := <-sub.Events:
		assert.Equal(t, wanted.SongID, ev.SongID)
		assert.Equal(t, 50, ev.Progress)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	select {
	case ev := <-sub.Events:
		t.Fatalf("unexpected second event for song %s", ev.SongID)
	default:
	}
}

func TestServiceFinishedEventCarriesOutcome(t *testing.T) {
	svc := NewService(nil)

	sub := svc.Subscribe(nil)
	defer svc.Unsubscribe(sub.ID)

	job := testJob(models.JobTypeComposition)
	job.MarkCompleted("video ready")
	svc.NotifyJobFinished(job)

	ev := <-sub.Events
	assert.Equal(t, EventTypeFinished, ev.EventType)
	assert.Equal(t, models.JobStatusCompleted, ev.Status)
	assert.Equal(t, "video ready", ev.Result)
}

func TestServiceSnapshotAndLatest(t *testing.T) {
	svc := NewService(nil)

	analysis := testJob(models.JobTypeSongAnalysis)
	compose := testJob(models.JobTypeComposition)
	svc.NotifyJobProgress(analysis, "sections", 50)
	svc.NotifyJobProgress(compose, "muxing", 80)

	latest, ok := svc.Latest(analysis.ID)
	require.True(t, ok)
	assert.Equal(t, "sections", latest.Step)

	jt := models.JobTypeComposition
	snap := svc.Snapshot(&Filter{JobType: &jt})
	require.Len(t, snap, 1)
	assert.Equal(t, compose.ID, snap[0].JobID)
}

func TestServiceCleanupRemovesFinished(t *testing.T) {
	svc := NewService(nil)
	svc.staleDuration = time.Nanosecond

	job := testJob(models.JobTypeBlobSweep)
	job.MarkCompleted("removed 0 unreferenced blobs")
	svc.NotifyJobFinished(job)

	time.Sleep(time.Millisecond)
	svc.cleanupStale()

	_, ok := svc.Latest(job.ID)
	assert.False(t, ok)
}
