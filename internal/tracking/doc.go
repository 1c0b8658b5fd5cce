// Package tracking is the enrollment lifecycle engine.
//
// A Service enrolls external entities into schedules, advances them as
// milestones are fulfilled, and keeps the job scheduler in step: alert
// jobs for the current milestone and one defaultment job at the end of
// its max window. Every read-modify-write on an (external id, schedule)
// pair runs under that pair's lock; unrelated pairs never contend.
//
// Domain failures are returned as wrapped sentinel errors (check with
// errors.Is). Collaborator failures are returned unchanged in meaning and
// are never retried here.
package tracking
