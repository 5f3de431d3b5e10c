// Copyright 2025 James Ross
// Command jobgroupctl is the operator CLI for the async batch subsystem:
// it drains a tenant's pending jobgroup-tagged jobs into a single
// submission, and inspects/cancels jobgroup rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/audit"
	"github.com/archivault/workers/internal/blob"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/jobgroup"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/redisclient"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
	"github.com/archivault/workers/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, _ := zap.NewProduction()
	if log == nil {
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	switch args[0] {
	case "create-jobgroup":
		err = runCreateJobgroup(ctx, cfg, log, args[1:])
	case "list-jobgroups":
		err = runListJobgroups(ctx, cfg, args[1:])
	case "show-jobgroup":
		err = runShowJobgroup(ctx, cfg, args[1:])
	case "cancel-jobgroup":
		err = runCancelJobgroup(ctx, cfg, log, args[1:])
	case "dump-config":
		err = runDumpConfig(cfg, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: jobgroupctl [-config path] <command> [args]

commands:
  create-jobgroup <tenant_id> <batch_id> <mode>   drain pending jobgroup-tagged jobs for tenant/batch and submit
  list-jobgroups                                  list non-terminal jobgroups
  show-jobgroup <jobgroup_id>                     show one jobgroup's full record
  cancel-jobgroup <jobgroup_id>                   cancel a non-terminal jobgroup
  dump-config                                     print the effective config as YAML, secrets redacted`)
}

func runDumpConfig(cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: dump-config")
	}
	out, err := config.DumpYAML(cfg)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func openJobgroupStore(cfg *config.Config) (store.JobgroupStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.OpenSQLite(cfg.Store.DSN)
	default:
		return store.OpenPostgres(cfg.Store.DSN)
	}
}

// runCreateJobgroup implements the "many assets, one jobgroup" path: it
// drains every job currently queued on the archivist jobgroup queue that
// matches tenant/batch, leaving every non-matching entry in place, and
// submits the drained batch as a single RunJobgroup call.
func runCreateJobgroup(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: create-jobgroup <tenant_id> <batch_id> <mode>")
	}
	tenantID, batchID, mode := args[0], args[1], args[2]
	if mode != "standard" && mode != "batch" {
		return fmt.Errorf("mode must be \"standard\" or \"batch\"")
	}

	rdb := redisclient.New(cfg)
	defer func() { _ = rdb.Close() }()
	q := queue.New(rdb, log)

	jobs, err := drainMatching(ctx, q, cfg.Worker.Queues.ArchivistJobgroup, tenantID, batchID)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no pending jobgroup-tagged jobs found for tenant %s batch %s", tenantID, batchID)
	}

	jgStore, err := openJobgroupStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	blobClient, err := blob.New(cfg.Blob, log)
	if err != nil {
		return fmt.Errorf("build blob client: %w", err)
	}
	auditLog, err := audit.New(cfg.Worker.Jobgroup.AuditDir, log)
	if err != nil {
		return fmt.Errorf("build audit logger: %w", err)
	}
	model := modelapi.New(cfg.ModelAPIURL, cfg.ModelAPIKey, cfg.Worker.Archivist.RequestTimeout, cfg.Worker.Archivist.MaxRetries, log)
	throttle := tenant.New(rdb, cfg.Worker.Jobgroup.MaxActivePerTenant, cfg.Worker.Jobgroup.Max24hPerTenant)

	submitter := &jobgroup.Submitter{
		Blob:         blobClient,
		Model:        model,
		Store:        jgStore,
		Throttle:     throttle,
		Audit:        auditLog,
		Webhook:      webhook.New(cfg.Webhook, log),
		ArchivistCfg: cfg.Worker.Archivist,
		Cfg:          cfg.Worker.Jobgroup,
		Log:          log,
	}

	result, err := submitter.RunJobgroup(ctx, jobs, "")
	if err != nil {
		return fmt.Errorf("submit jobgroup: %w", err)
	}

	fmt.Printf("jobgroup_id=%s external_jobgroup_id=%s status=%s request_count=%d\n",
		result.JobgroupID, result.ExternalJobgroupID, result.Status, result.RequestCount)
	return nil
}

// drainMatching right-pops every entry off key, collecting the ones
// belonging to tenantID/batchID and pushing everything else straight
// back so other tenants' pending work is undisturbed.
func drainMatching(ctx context.Context, q *queue.Queue, key, tenantID, batchID string) ([]job.Job, error) {
	var matched []job.Job
	var requeue []string

	for {
		raw, ok, err := q.PopRaw(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		j, err := job.Unmarshal(raw)
		if err != nil {
			requeue = append(requeue, raw)
			continue
		}
		if j.TenantID == tenantID && (batchID == "" || j.BatchID == batchID) {
			matched = append(matched, j)
		} else {
			requeue = append(requeue, raw)
		}
	}

	for _, raw := range requeue {
		if err := q.PushRaw(ctx, key, raw); err != nil {
			return matched, err
		}
	}
	return matched, nil
}

func runListJobgroups(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: list-jobgroups")
	}
	jgStore, err := openJobgroupStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	statuses := []string{store.JobgroupCreated, store.JobgroupValidating, store.JobgroupInProgress}
	jgs, err := jgStore.ListJobgroupsByStatus(ctx, statuses)
	if err != nil {
		return err
	}
	if len(jgs) == 0 {
		fmt.Println("no non-terminal jobgroups")
		return nil
	}
	for _, jg := range jgs {
		fmt.Printf("%s  tenant=%s  batch=%s  status=%s  requests=%d  created=%s\n",
			jg.ID, jg.TenantID, jg.BatchID, jg.Status, jg.RequestCount, jg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func runShowJobgroup(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show-jobgroup <jobgroup_id>")
	}
	jgStore, err := openJobgroupStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	jg, err := jgStore.GetJobgroup(ctx, args[0])
	if err != nil {
		return err
	}
	if jg == nil {
		return fmt.Errorf("jobgroup %s not found", args[0])
	}
	fmt.Printf("id=%s\ntenant_id=%s\nbatch_id=%s\nexternal_jobgroup_id=%s\ninput_file_id=%s\noutput_file_id=%s\nstatus=%s\nrequest_count=%d\ncreated_at=%s\n",
		jg.ID, jg.TenantID, jg.BatchID, jg.ExternalJobgroupID, jg.InputFileID, jg.OutputFileID, jg.Status, jg.RequestCount,
		jg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	if jg.CompletedAt != nil {
		fmt.Printf("completed_at=%s\n", jg.CompletedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if jg.FailedAt != nil {
		fmt.Printf("failed_at=%s\n", jg.FailedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func runCancelJobgroup(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cancel-jobgroup <jobgroup_id>")
	}
	jgStore, err := openJobgroupStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	rdb := redisclient.New(cfg)
	defer func() { _ = rdb.Close() }()
	canceller := &jobgroup.Canceller{
		Model:    modelapi.New(cfg.ModelAPIURL, cfg.ModelAPIKey, cfg.Worker.Archivist.RequestTimeout, cfg.Worker.Archivist.MaxRetries, log),
		Store:    jgStore,
		Throttle: tenant.New(rdb, cfg.Worker.Jobgroup.MaxActivePerTenant, cfg.Worker.Jobgroup.Max24hPerTenant),
		Webhook:  webhook.New(cfg.Webhook, log),
		Log:      log,
	}
	if err := canceller.Cancel(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("cancelled %s\n", args[0])
	return nil
}
