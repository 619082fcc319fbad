package domain

import (
	"context"
	"time"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// AddJob implements §4.8.6's enqueue half: inserts a queued job unique by
// (rowReference, jobType), returning metaerr.User if one already exists
// so callers can treat re-enqueue as a no-op rather than a duplicate.
func (m *Metastore) AddJob(ctx context.Context, rowReference, jobType string) (Job, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		key := concatKey([]byte(rowReference), []byte(jobType))
		if existing, err := m.jobs.GetRowsByIndex(snap, m.jobs.Indexes[ordJobByReferenceAndType], key); err == nil && len(existing) > 0 {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "job %s/%s already exists", rowReference, jobType)
		}
		row := Job{RowReference: rowReference, JobType: jobType, Status: JobQueued, LastHeartBeat: now()}
		id, err := m.jobs.Insert(snap, batch, m.alloc, row)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		row.ID = id
		return writeloop.WriteResult{Value: row, Events: []eventbus.Event{insertEvent(kv.TableJobs, id, row)}}, nil
	})
	if err != nil {
		return Job{}, err
	}
	return v.(Job), nil
}

// StartProcessingJob implements §4.8.6's claim half: scans the jobs and
// atomically transitions the queued job with the lowest id to
// processing, stamping the claiming
// worker's identity and a fresh heartbeat. Fails with metaerr.User if no
// job is queued, so concurrent callers contend over the same pool of
// work rather than each independently picking their own target.
func (m *Metastore) StartProcessingJob(ctx context.Context, processingBy string) (Job, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		queued, err := m.jobs.ScanByIndex(snap, m.jobs.Indexes[ordJobByStatus])
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		var old *Job
		for i := range queued {
			if queued[i].Status == JobQueued && (old == nil || queued[i].ID < old.ID) {
				old = &queued[i]
			}
		}
		if old == nil {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "no queued job available")
		}
		newRow := *old
		newRow.Status = JobProcessing
		newRow.ProcessingBy = processingBy
		newRow.LastHeartBeat = now()
		if _, err := m.jobs.Update(snap, batch, old.ID, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableJobs, old.ID, *old, newRow)}}, nil
	})
	if err != nil {
		return Job{}, err
	}
	return v.(Job), nil
}

// UpdateHeartBeat refreshes a processing job's liveness timestamp.
func (m *Metastore) UpdateHeartBeat(ctx context.Context, id kv.RowID) (Job, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.jobs.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.LastHeartBeat = now()
		if _, err := m.jobs.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableJobs, id, old, newRow)}}, nil
	})
	if err != nil {
		return Job{}, err
	}
	return v.(Job), nil
}

// FinishJob marks a job done or failed, recording lastError on failure.
func (m *Metastore) FinishJob(ctx context.Context, id kv.RowID, failed bool, lastError string) (Job, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.jobs.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		if failed {
			newRow.Status = JobFailed
			newRow.LastError = lastError
		} else {
			newRow.Status = JobDone
		}
		if _, err := m.jobs.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableJobs, id, old, newRow)}}, nil
	})
	if err != nil {
		return Job{}, err
	}
	return v.(Job), nil
}

// GetOrphanedJobs returns every job stuck in Processing whose heartbeat
// is older than timeout, so a reaper can requeue or fail it.
func (m *Metastore) GetOrphanedJobs(timeout time.Duration) ([]Job, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.jobs.ScanByIndex(snap, m.jobs.Indexes[ordJobByStatus])
		if err != nil {
			return nil, err
		}
		cutoff := now().Add(-timeout)
		var out []Job
		for _, j := range all {
			if j.Status == JobProcessing && j.LastHeartBeat.Before(cutoff) {
				out = append(out, j)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Job), nil
}

// RequeueJob resets an orphaned job back to Queued.
func (m *Metastore) RequeueJob(ctx context.Context, id kv.RowID) (Job, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.jobs.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.Status = JobQueued
		newRow.ProcessingBy = ""
		newRow.LastHeartBeat = now()
		if _, err := m.jobs.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableJobs, id, old, newRow)}}, nil
	})
	if err != nil {
		return Job{}, err
	}
	return v.(Job), nil
}

// DeleteJob removes a finished job record.
func (m *Metastore) DeleteJob(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.jobs.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Events: []eventbus.Event{deleteEvent(kv.TableJobs, id, old)}}, nil
	})
	return err
}
