package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

// cronLogger sends cron's own messages, such as recovered panics and skipped
// runs, to the service logger.
type cronLogger struct {
	log logger.Logger
}

var _ cron.Logger = cronLogger{}

func newCronLogger(log logger.Logger) cronLogger {
	return cronLogger{log: log.With(logger.String("component", "cron"))}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keyValueFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(keyValueFields(keysAndValues), logger.Error(err))
	l.log.Error(msg, fields...)
}

func keyValueFields(keysAndValues []any) []logger.Field {
	fields := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
