package types

// SlotStatus summarizes one of the two worker slots of a model.
type SlotStatus struct {
	// Slot identifier, "a" or "b".
	Slot string `json:"slot"`
	// Supervisor process group backing this slot.
	Group string `json:"group"`
	// Base URL of the worker's inference endpoint.
	BaseURL string `json:"base_url,omitempty"`
	// Health of the worker: starting, ready, unhealthy, stopped.
	Health string `json:"health"`
	// Requests currently in flight against this slot.
	Inflight int `json:"inflight"`
	// Artifact version the slot was last started with.
	Version string `json:"version,omitempty"`
}

// ModelStatusResponse is returned by GET /model/{name}.
type ModelStatusResponse struct {
	Name string `json:"name"`
	// Lifecycle state: empty, active_only, promoting, draining, failed.
	State string `json:"state"`
	// Active slot id ("a", "b") or "" when no slot is active.
	ActiveSlot string `json:"active_slot,omitempty"`
	// Version id of the artifact currently served.
	Version string `json:"version,omitempty"`
	// Content digest of the artifact currently served.
	Digest string `json:"digest,omitempty"`
	// Requests parked waiting for a slot to become active.
	QueueLen int `json:"queue_len"`
	// Last promotion error, if the last attempt failed.
	LastError string `json:"last_error,omitempty"`
	Slots     []SlotStatus `json:"slots"`
}

// ModelSummary is one entry of GET /model.
type ModelSummary struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	ActiveSlot string `json:"active_slot,omitempty"`
	Version    string `json:"version,omitempty"`
}

// ModelsResponse wraps the list returned by GET /model.
type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// UploadResponse is returned by PUT /model/{name}. The upload is accepted
// and promoted in the background; poll GET /model/{name} for the outcome.
type UploadResponse struct {
	Model string `json:"model"`
	// Version id assigned to the uploaded artifact.
	Version string `json:"version"`
	// SHA-256 digest of the artifact content.
	Digest string `json:"digest"`
	// True when the payload was byte-identical to the version already
	// serving; no process restart is performed in that case.
	NoOp bool `json:"no_op,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}
