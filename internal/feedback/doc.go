// Package feedback turns sandbox outcomes into pipeline decisions.
//
// The controller is the single writer of lineage records. For each sandbox
// outcome it classifies the failure, checks the retry budget, and either
// accepts the attempt, derives a refined successor task and queues it for
// the engineering squad, or rejects the lineage for good. Terminal lineages
// are frozen: a late or duplicate outcome for a closed lineage is a no-op.
package feedback
