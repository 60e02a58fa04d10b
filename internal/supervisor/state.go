package supervisor

// State is a supervisor lifecycle state.
//
//	NotStarted -> Launching -> ContainerStarted -> ConfigSent -> Starting -> Running
//	any start state -> Aborted
//	Running -> Stopping -> Stopped
type State int32

const (
	StateNotStarted State = iota
	StateLaunching
	StateContainerStarted
	StateConfigSent
	StateStarting
	StateRunning
	StateAborted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateLaunching:
		return "launching"
	case StateContainerStarted:
		return "container_started"
	case StateConfigSent:
		return "config_sent"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateAborted:
		return "aborted"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
