package runtime

import "fmt"

// State is a Session lifecycle state.
type State int32

const (
	StateUnloaded State = iota
	StateMetadataLoaded
	StateInstantiating
	StateInstantiated
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateUnloaded:       "unloaded",
	StateMetadataLoaded: "metadata_loaded",
	StateInstantiating:  "instantiating",
	StateInstantiated:   "instantiated",
	StateFailed:         "failed",
	StateClosed:         "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
