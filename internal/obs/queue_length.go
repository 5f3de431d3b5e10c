// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/archivault/workers/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater samples every known queue key and updates the
// queue_length gauge on an interval.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}
	q := cfg.Worker.Queues
	keys := []string{
		q.MachinistInstant, q.MachinistStandard,
		q.ArchivistInstant, q.ArchivistStandard, q.ArchivistJobgroup,
		q.DLQMachinist, q.DLQArchivist,
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, key := range keys {
					n, err := rdb.LLen(ctx, key).Result()
					if err != nil {
						log.Debug("queue length poll error", String("queue", key), Err(err))
						continue
					}
					QueueLength.WithLabelValues(key).Set(float64(n))
				}
			}
		}
	}()
}
