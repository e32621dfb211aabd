// Package scheduler runs the daemon's background jobs.
//
// Each job family owns one goroutine that runs the job on its interval and
// whenever it is triggered. Triggers that arrive while a run is in progress
// or already pending collapse into a single follow-up run, so a job never
// runs concurrently with itself.
package scheduler
