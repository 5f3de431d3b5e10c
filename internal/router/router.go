// Copyright 2025 James Ross
// Package router resolves a validated job to its destination queue key.
package router

import (
	"fmt"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
)

// ResolveQueue implements spec.md §4.2: derive worker and priority, reject
// machinist+jobgroup, and map (worker, priority) to a configured queue key.
func ResolveQueue(queues config.Queues, j job.Job) (string, error) {
	w, err := j.DeriveWorker()
	if err != nil {
		return "", err
	}
	p := j.DerivePriority()

	if w == job.Machinist && p == job.Jobgroup {
		return "", apperrors.NewRoutingCode("unsupported_priority", "machinist does not support jobgroup priority")
	}

	switch {
	case w == job.Machinist && p == job.Instant:
		return queues.MachinistInstant, nil
	case w == job.Machinist && p == job.Standard:
		return queues.MachinistStandard, nil
	case w == job.Archivist && p == job.Instant:
		return queues.ArchivistInstant, nil
	case w == job.Archivist && p == job.Standard:
		return queues.ArchivistStandard, nil
	case w == job.Archivist && p == job.Jobgroup:
		return queues.ArchivistJobgroup, nil
	default:
		return "", apperrors.NewRouting(fmt.Sprintf("no queue for worker=%q priority=%q", w, p))
	}
}

// DLQKey returns the dead-letter queue key for a worker.
func DLQKey(queues config.Queues, w job.Worker) (string, error) {
	switch w {
	case job.Machinist:
		return queues.DLQMachinist, nil
	case job.Archivist:
		return queues.DLQArchivist, nil
	default:
		return "", apperrors.NewRouting(fmt.Sprintf("no dlq for worker %q", w))
	}
}
