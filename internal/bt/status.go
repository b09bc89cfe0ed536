package bt

import "fmt"

// Status is the result of ticking a node. Idle is only ever a node state,
// never a tick result.
type Status uint8

const (
	Idle Status = iota
	Running
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("unknown status (%d)", uint8(s))
}

// ParseStatus is the inverse of String for the three tick results.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "running":
		return Running, nil
	case "success":
		return Success, nil
	case "failure":
		return Failure, nil
	}
	return Idle, fmt.Errorf("bt: invalid status %q", s)
}
