// Package stream keeps one push subscription per user alive.
//
// A Subscription runs a single goroutine that dials, reads frames and, on
// failure, waits out an exponential backoff before dialing again. Its state
// follows the pure Transition function. Unsubscribe closes the transport,
// cancels the pending reconnect timer and waits for the goroutine to exit.
//
// Router classifies frames by type prefix and turns them into items.
package stream
