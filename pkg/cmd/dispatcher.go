package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conveyorhq/conveyor/pkg/queue"
	"github.com/conveyorhq/conveyor/pkg/queue/memoryqueue"
	"github.com/conveyorhq/conveyor/pkg/queue/redisqueue"
)

// NewDispatcher creates a job dispatcher from the queue URL. A
// redis:// URL selects the durable Redis queue; anything else falls
// back to the in-process queue, which is only suitable for a single
// worker.
func NewDispatcher(ctx context.Context, queueURL string, config queue.Config, logger *slog.Logger) queue.Dispatcher {
	if strings.HasPrefix(queueURL, "redis://") {
		addr := strings.TrimPrefix(queueURL, "redis://")

		dispatcher, err := redisqueue.NewDispatcher(ctx, redisqueue.NewClient(addr, "", 0), config, logger)
		if err != nil {
			panic(fmt.Errorf("failed to connect to Redis queue: %w", err))
		}

		return dispatcher
	}

	return memoryqueue.NewDispatcher(config, logger)
}
