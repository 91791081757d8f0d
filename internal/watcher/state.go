package watcher

// State is the phase of a watcher's check cycle.
type State string

// Watcher states. A cycle moves Idle → Skipped while cooling down, otherwise
// Idle → RegionCheck → Checking → Notified|NotQualified|Errored, then back to
// Idle. Stopped is terminal.
const (
	StateIdle         State = "idle"
	StateRegionCheck  State = "delivery_region_check"
	StateSkipped      State = "skipped"
	StateChecking     State = "checking"
	StateNotified     State = "notified"
	StateNotQualified State = "not_qualified"
	StateErrored      State = "errored"
	StateStopped      State = "stopped"
)
