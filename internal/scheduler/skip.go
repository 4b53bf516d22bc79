package scheduler

// NeedsRun decides whether a task must execute or can be skipped.
//
// A forced run always executes. Otherwise the task runs unless it is
// skippable and every output is up to date (written, not being edited, and
// within its validity period). A task without outputs always runs.
func NeedsRun(t *Task, force bool) bool {
	if force || !t.IsSkippable() {
		return true
	}
	if len(t.outputs) == 0 {
		return true
	}
	for _, dn := range t.outputs {
		if !dn.IsUpToDate() {
			return true
		}
	}
	return false
}
