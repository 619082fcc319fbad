package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/domain"
	"github.com/cube-js/cube-metastore/internal/metaerr"
)

func TestAddJobRejectsDuplicateReferenceAndType(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()

	j, err := m.AddJob(ctx, "table:1", "merge")
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, j.Status)

	_, err = m.AddJob(ctx, "table:1", "merge")
	require.Error(t, err)
	assert.Equal(t, metaerr.User, metaerr.KindOf(err))

	_, err = m.AddJob(ctx, "table:1", "compact")
	require.NoError(t, err, "a different job type on the same reference is not a duplicate")
}

func TestStartProcessingJobClaimSemantics(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()

	j, err := m.AddJob(ctx, "table:1", "merge")
	require.NoError(t, err)

	claimed, err := m.StartProcessingJob(ctx, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, j.ID, claimed.ID)
	assert.Equal(t, domain.JobProcessing, claimed.Status)
	assert.Equal(t, "worker-a", claimed.ProcessingBy)

	_, err = m.StartProcessingJob(ctx, "worker-b")
	require.Error(t, err, "no queued job remains for a second worker to claim")
	assert.Equal(t, metaerr.User, metaerr.KindOf(err))
}

// TestStartProcessingJobClaimsFirstQueuedAmongSeveral proves the claim
// scans for the first queued job rather than requiring the caller to
// already know which job to target: two workers calling concurrently
// against a pool of queued jobs must each get a distinct job, and a
// third call once the pool is exhausted must fail.
func TestStartProcessingJobClaimsFirstQueuedAmongSeveral(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()

	first, err := m.AddJob(ctx, "table:1", "merge")
	require.NoError(t, err)
	second, err := m.AddJob(ctx, "table:2", "merge")
	require.NoError(t, err)

	claimedFirst, err := m.StartProcessingJob(ctx, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimedFirst.ID, "the lowest-id queued job is claimed first")

	claimedSecond, err := m.StartProcessingJob(ctx, "worker-b")
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimedSecond.ID)

	_, err = m.StartProcessingJob(ctx, "worker-c")
	require.Error(t, err, "the queue is exhausted")
	assert.Equal(t, metaerr.User, metaerr.KindOf(err))
}

func TestFinishJobRecordsFailure(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()

	j, err := m.AddJob(ctx, "table:1", "merge")
	require.NoError(t, err)
	_, err = m.StartProcessingJob(ctx, "worker-a")
	require.NoError(t, err)

	failed, err := m.FinishJob(ctx, j.ID, true, "disk full")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.Status)
	assert.Equal(t, "disk full", failed.LastError)

	j2, err := m.AddJob(ctx, "table:2", "merge")
	require.NoError(t, err)
	_, err = m.StartProcessingJob(ctx, "worker-a")
	require.NoError(t, err)
	done, err := m.FinishJob(ctx, j2.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, done.Status)
}

func TestGetOrphanedJobsAndRequeue(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()

	j, err := m.AddJob(ctx, "table:1", "merge")
	require.NoError(t, err)
	_, err = m.StartProcessingJob(ctx, "worker-a")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	orphaned, err := m.GetOrphanedJobs(time.Millisecond)
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.Equal(t, j.ID, orphaned[0].ID)

	requeued, err := m.RequeueJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, requeued.Status)
	assert.Empty(t, requeued.ProcessingBy)

	stillOrphaned, err := m.GetOrphanedJobs(time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, stillOrphaned, "a requeued job is no longer processing")
}

func TestDeleteJob(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()

	j, err := m.AddJob(ctx, "table:1", "merge")
	require.NoError(t, err)
	require.NoError(t, m.DeleteJob(ctx, j.ID))

	_, err = m.StartProcessingJob(ctx, "worker-a")
	require.Error(t, err, "the deleted job left no queued job to claim")
}
