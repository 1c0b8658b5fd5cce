// Package schedule holds the declarative side of schedule tracking:
// the Time/Period primitives, windows, alerts, milestones and schedules,
// plus the definition document format that schedules are loaded from.
//
// Values built here are immutable once wrapped in a Schedule; accessors
// return copies.
package schedule
