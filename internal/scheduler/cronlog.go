package scheduler

import (
	"fmt"

	logx "pollbot/pkg/logx"
)

// cronLogger adapts logx to cron.Logger so recovered panics and delayed runs
// end up in the normal log stream.
type cronLogger struct {
	log logx.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(kvFields(keysAndValues), logx.Err(err))
	c.log.Error(msg, fields...)
}

func kvFields(kv []any) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		fields = append(fields, logx.Any(key, kv[i+1]))
	}
	return fields
}
