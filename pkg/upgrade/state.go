package upgrade

// State is a step of the upgrade state machine
type State int

const (
	StatePreflightCheck State = iota
	StateBackup
	StateDownload
	StateVerify
	StateStopService
	StateReplaceBinary
	StateStartService
	StatePostVerify
	StateDone
	StateRollingBack
	StateRolledBack
	StateFailed
)

var stateNames = [...]string{
	StatePreflightCheck: "PreflightCheck",
	StateBackup:         "Backup",
	StateDownload:       "Download",
	StateVerify:         "Verify",
	StateStopService:    "StopService",
	StateReplaceBinary:  "ReplaceBinary",
	StateStartService:   "StartService",
	StatePostVerify:     "PostVerify",
	StateDone:           "Done",
	StateRollingBack:    "RollingBack",
	StateRolledBack:     "RolledBack",
	StateFailed:         "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the machine stops in this state
func (s State) Terminal() bool {
	return s == StateDone || s == StateRolledBack || s == StateFailed
}
