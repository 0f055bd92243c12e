package dispatch

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/btsink/internal/logger"
)

// dropLogWindow is how long repeated drops of the same event and reason are
// kept out of the log after the first one.
const dropLogWindow = 5 * time.Second

// dropLogger rate limits drop warnings per event and reason. The cache has no
// janitor; expired keys are replaced on the next Add.
type dropLogger struct {
	seen *cache.Cache
	log  logger.Logger
}

func newDropLogger(log logger.Logger) *dropLogger {
	return &dropLogger{
		seen: cache.New(dropLogWindow, 0),
		log:  log,
	}
}

func (d *dropLogger) dropped(event EventID, reason string, fields ...logger.Field) {
	key := fmt.Sprintf("%d/%s", event, reason)
	if err := d.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		return
	}
	fields = append(fields,
		logger.Int("event", int(event)),
		logger.String("reason", reason),
		logger.Duration("suppress_window", dropLogWindow))
	d.log.Warn("event dropped", fields...)
}
