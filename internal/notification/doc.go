// Package notification holds the shared notification model.
//
// Items are produced by the reminder poller and the event stream client,
// mutated only by the dispatcher (read flag), and persisted by the history
// store. The error taxonomy used at every component boundary lives here too.
package notification
