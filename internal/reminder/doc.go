// Package reminder turns backend records into due reminder items.
//
// ComputeDue is a pure function of candidates and the current time. Poller
// drives it on a cron schedule per source group and hands fresh items to a
// sink, skipping keys the user has already seen.
package reminder
