// Package scheduler fires keyed one-shot and repeating jobs at absolute
// instants on top of robfig/cron.
//
// Jobs are upserted by key, so scheduling the same logical job twice
// replaces the first registration. Callbacks from replaced or cancelled
// registrations are ignored. Nothing is persisted; callers rebuild their
// jobs after a restart.
package scheduler
