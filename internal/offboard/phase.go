package offboard

import "fmt"

// Phase is the sequencer state.
type Phase int32

const (
	PhaseWarmup Phase = iota + 1
	PhaseNegotiating
	PhaseStreaming
	PhaseReturning
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "WARMUP"
	case PhaseNegotiating:
		return "NEGOTIATING"
	case PhaseStreaming:
		return "STREAMING"
	case PhaseReturning:
		return "RETURNING"
	case PhaseTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
