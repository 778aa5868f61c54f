package lifecycle

// notFoundError signals an unknown model name for 404 mapping.
type notFoundError struct{ name string }

func (e notFoundError) Error() string { return "model not found: " + e.name }

func ErrNotFound(name string) error { return notFoundError{name: name} }

// IsNotFound reports whether err indicates an unknown model name.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// upstreamUnavailableError signals that forwarding to the active worker
// failed. The router never retries against the other slot; the other slot,
// if any, is mid-switch and may not hold equivalent state.
type upstreamUnavailableError struct {
	name string
	msg  string
}

func (e upstreamUnavailableError) Error() string {
	return "upstream unavailable for " + e.name + ": " + e.msg
}

func ErrUpstreamUnavailable(name, msg string) error {
	return upstreamUnavailableError{name: name, msg: msg}
}

// IsUpstreamUnavailable reports whether err indicates a failed forward (503).
func IsUpstreamUnavailable(err error) bool {
	_, ok := err.(upstreamUnavailableError)
	return ok
}

// queueTimeoutError signals a held request exceeded its maximum wait.
type queueTimeoutError struct{ name string }

func (e queueTimeoutError) Error() string { return "queued request timed out: " + e.name }

func ErrQueueTimeout(name string) error { return queueTimeoutError{name: name} }

// IsQueueTimeout reports whether err indicates a queue hold expiry (504).
func IsQueueTimeout(err error) bool {
	_, ok := err.(queueTimeoutError)
	return ok
}

// queueFullError signals the per-model hold queue is at capacity (429).
type queueFullError struct{ name string }

func (e queueFullError) Error() string { return "too many waiting requests: " + e.name }

func ErrQueueFull(name string) error { return queueFullError{name: name} }

// IsQueueFull reports whether err indicates hold-queue backpressure.
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

// promotionTimeoutError signals the standby never reached READY in time.
type promotionTimeoutError struct{ name string }

func (e promotionTimeoutError) Error() string {
	return "promotion timed out waiting for readiness: " + e.name
}

func ErrPromotionTimeout(name string) error { return promotionTimeoutError{name: name} }

// IsPromotionTimeout reports whether err is a readiness deadline expiry.
func IsPromotionTimeout(err error) bool {
	_, ok := err.(promotionTimeoutError)
	return ok
}

// promotionFailedError signals a gateway or process error during start.
type promotionFailedError struct {
	name string
	msg  string
}

func (e promotionFailedError) Error() string {
	return "promotion failed for " + e.name + ": " + e.msg
}

func ErrPromotionFailed(name, msg string) error {
	return promotionFailedError{name: name, msg: msg}
}

// IsPromotionFailed reports whether err is a failed promotion attempt.
func IsPromotionFailed(err error) bool {
	_, ok := err.(promotionFailedError)
	return ok
}
