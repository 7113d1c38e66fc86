package startup

import (
	"context"
	"os"
	"time"

	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/notify"
)

// ConnectNotifierWithRetry connects the Redis change feed with retries.
// An empty redisURL falls back to the in-process notifier (single
// instance deployments and -dev).
func ConnectNotifierWithRetry(redisURL string, maxWait time.Duration, logPrefix string) notify.Notifier {
	if redisURL == "" {
		logger.Infof("%schange feed: in-process (REDIS_URL not set)", logPrefix)
		return notify.NewMemoryNotifier()
	}
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := notify.NewRedisNotifier(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return n
	}
}
