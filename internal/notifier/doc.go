// Package notifier is the asynchronous delivery pipeline in front of a
// platform surface: bounded queue, worker pool, rate limit, retry with
// jittered backoff and a per-tag suppression window.
//
// Notify never blocks on the network. The dispatcher calls it from its
// single-writer loop.
package notifier
