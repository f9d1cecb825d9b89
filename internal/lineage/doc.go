// Package lineage persists the refinement history of a task family.
//
// Every task produced by refinement shares the LineageID of the root task.
// The lineage record is the durable audit trail for the family: one entry
// per attempt, in order, plus the terminal disposition once the family is
// accepted or rejected. Records survive daemon restarts so that a rejected
// lineage is never silently re-run.
package lineage
