package amp

// NoToolPermissions rejects every tool. Title scoring needs only the model's
// text answer, and the scanned repository must not be touched by the agent.
func NoToolPermissions() []string {
	return []string{
		`reject edit_file`,
		`reject create_file`,
		`reject undo_edit`,
		`reject Bash`,
		`reject Task`,
		`reject handoff`,
		`reject Read`,
		`reject Grep`,
		`reject glob`,
		`reject web_search`,
		`reject read_web_page`,
	}
}
