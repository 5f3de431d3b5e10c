// Copyright 2025 James Ross
package jobgroup

import (
	"context"

	"github.com/archivault/workers/internal/job"
)

// WorkerDelegate adapts Submitter to archivist.Delegate: a single
// jobgroup-tagged job dequeued by the Archivist worker is submitted as
// its own one-request jobgroup. The common "many assets, one jobgroup"
// path instead goes through jobgroupctl, which collects a tenant's
// pending jobgroup-tagged jobs off the queue and calls RunJobgroup with
// the full batch in one call.
type WorkerDelegate struct {
	Submitter *Submitter
}

// Submit implements archivist.Delegate.
func (d *WorkerDelegate) Submit(ctx context.Context, j job.Job) error {
	_, err := d.Submitter.RunJobgroup(ctx, []job.Job{j}, "")
	return err
}
