// Package scheduler registers cron and interval schedules and turns their
// triggers into task engine submissions.
//
// The scheduler never runs jobs itself; execution, retries and overlap gating
// belong to the engine.
package scheduler
