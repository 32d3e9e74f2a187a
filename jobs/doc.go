// Package jobs binds the poller, resolver, history appender and artifact
// store into the two scheduled jobs: the spawn-time job that waits for the
// daily cycle rotation, and the history job that records the day's cycle.
package jobs
