package deployment

import (
	"encoding/json"

	"azflow/internal/connector"
)

// Request creates a deployment: one connector instance that is set up
// immediately.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// Info describes a hosted deployment.
type Info struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	State connector.State `json:"state"`
}

// ListResponse lists all hosted deployments.
type ListResponse struct {
	Deployments []Info `json:"deployments"`
}

// RunRequest triggers the connector's unit of work.
type RunRequest struct {
	Command string `json:"command"`
}

// RunResponse carries the connector's result string.
type RunResponse struct {
	Result string `json:"result"`
}

// ConnectorsResponse lists the registered connector types.
type ConnectorsResponse struct {
	Types []string `json:"types"`
}
