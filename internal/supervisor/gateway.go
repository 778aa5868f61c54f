package supervisor

import "context"

// ProcessState is the coarse state of a supervised process group as
// reported by the process manager.
type ProcessState string

const (
	StateRunning ProcessState = "RUNNING"
	StateStopped ProcessState = "STOPPED"
	StateFatal   ProcessState = "FATAL"
	StateUnknown ProcessState = "UNKNOWN"
)

// Gateway is the capability surface the lifecycle controller needs from an
// external process supervisor. Implementations control named process groups
// (one per model slot). All calls may fail with a gateway error when the
// supervisor daemon is unreachable; callers treat that as a failed
// transition, never as fatal to the whole service.
type Gateway interface {
	Start(ctx context.Context, group string) error
	Stop(ctx context.Context, group string) error
	Status(ctx context.Context, group string) (ProcessState, error)
}

// gatewayError wraps any RPC/transport failure talking to the supervisor
// daemon so the HTTP layer can distinguish it from worker errors.
type gatewayError struct{ msg string }

func (e gatewayError) Error() string { return "supervisor gateway: " + e.msg }

// ErrGateway constructs a gateway error.
func ErrGateway(msg string) error { return gatewayError{msg: msg} }

// IsGatewayError reports whether err came from the supervisor transport.
func IsGatewayError(err error) bool {
	_, ok := err.(gatewayError)
	return ok
}
