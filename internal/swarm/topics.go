package swarm

// TaskTopic returns the bus topic tasks destined for a squad are queued on.
func TaskTopic(squad SquadName) string {
	return "swarm.tasks." + string(squad)
}
