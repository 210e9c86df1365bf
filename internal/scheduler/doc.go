// Package scheduler fires polls at their scheduled minute.
//
// One cron entry ticks every minute in the configured location. Each tick is
// an exact-match query against the store for (weekday, HH:MM); matches are
// dispatched through the Gateway under a shared rate limiter. Ticks never
// overlap: a long tick delays the next one rather than running beside it.
//
// Failure policy per tick:
//   - store error: the whole tick is abandoned (no partial dispatch)
//   - dispatch error: that poll is logged and skipped, the rest proceed
//
// There is no missed-tick compensation. A poll whose minute passes while the
// process is down or the scheduler is disabled fires again at its next
// scheduled minute.
package scheduler
