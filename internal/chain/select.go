package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DialFunc opens a client for one endpoint without probing it.
type DialFunc func(ctx context.Context, endpoint string) (Client, error)

// Select returns the first endpoint, in order, whose client answers
// CurrentBlock within probeTimeout. Rejected clients are closed.
func Select(ctx context.Context, endpoints []string, probeTimeout time.Duration, dial DialFunc, logger *slog.Logger) (Client, string, error) {
	failures := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		client, head, err := probe(ctx, endpoint, probeTimeout, dial)
		if err != nil {
			logger.Warn("rpc endpoint rejected", "endpoint", endpoint, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}

		logger.Info("rpc endpoint selected", "endpoint", endpoint, "head_block", head)
		return client, endpoint, nil
	}

	if len(failures) == 0 {
		return nil, "", fmt.Errorf("%w: endpoint list is empty", ErrNoHealthyEndpoint)
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNoHealthyEndpoint, strings.Join(failures, "; "))
}

func probe(ctx context.Context, endpoint string, timeout time.Duration, dial DialFunc) (Client, uint64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := dial(probeCtx, endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("dial: %w", err)
	}

	head, err := client.CurrentBlock(probeCtx)
	if err != nil {
		if c, ok := client.(Closer); ok {
			c.Close()
		}
		return nil, 0, fmt.Errorf("probe: %w", err)
	}
	return client, head, nil
}
