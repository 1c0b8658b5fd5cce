// Package notify delivers bus events (alerts by default) to a sink.
//
// Delivery is asynchronous: Notify enqueues, a small worker pool drains the
// queue through a token-bucket limiter and retries failed sends with
// jittered backoff. Messages carrying a key are deduplicated for a window
// so a replayed alert is sent once.
package notify
