package runs

import (
	"fmt"
	"sync/atomic"
)

type Status int32

const (
	Created Status = iota
	Initialized
	Running
	Done
	Cancelled
)

var statusNames = [...]string{"CREATED", "INITIALIZED", "RUNNING", "DONE", "CANCELLED"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Final reports whether no further transition is possible.
func (s Status) Final() bool { return s == Done || s == Cancelled }

// state is a status with compare-and-swap transitions.
type state struct {
	v atomic.Int32
}

func (st *state) load() Status { return Status(st.v.Load()) }

func (st *state) transition(from, to Status) bool {
	return st.v.CompareAndSwap(int32(from), int32(to))
}
