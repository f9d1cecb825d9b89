// Package swarm defines the agent population and consensus machinery.
//
// The swarm is a fixed 14-agent population grouped into four squads, one per
// pipeline stage. Agents are opaque strategies behind the Agent interface;
// the package owns everything around them: the immutable Task unit, tagged
// Verdict variants, parallel squad fan-out with per-role timeouts, and the
// ConsensusGate that decides whether a squad's collective verdict lets a
// task progress.
package swarm
