// Package trigger turns external events into stage invocations.
//
// Storage triggers consume bucket watcher events and retry retryable stage
// failures a bounded number of times. Bus triggers adapt a subscription to a
// stage handler and let the bus redeliver, marking non-retryable failures
// terminal. The push server accepts both kinds of event over HTTP.
package trigger
