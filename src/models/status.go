package models

import "time"

// ControllerState is the lifecycle state of one asset class.
type ControllerState string

const (
	StateStopped    ControllerState = "STOPPED"
	StateStarting   ControllerState = "STARTING"
	StateRunning    ControllerState = "RUNNING"
	StateStopping   ControllerState = "STOPPING"
	StateRestarting ControllerState = "RESTARTING"
	StateHalted     ControllerState = "HALTED"
)

// ReconcileState is the state of the watch-list reconciliation loop.
type ReconcileState string

const (
	ReconcileIdle     ReconcileState = "IDLE"
	ReconcileWaiting  ReconcileState = "WAITING"
	ReconcileDiffing  ReconcileState = "DIFFING"
	ReconcileApplying ReconcileState = "APPLYING"
)

// -----------------------------------------------------------------------------

// MSessionStatus is a point-in-time snapshot of one asset-class controller.
type MSessionStatus struct {
	AssetClass     AssetClass        `json:"asset_class"`
	State          ControllerState   `json:"state"`
	SessionID      string            `json:"session_id,omitempty"`
	Gated          bool              `json:"gated"`
	MarketOpen     bool              `json:"market_open"`
	Symbols        []string          `json:"symbols"`
	Subscriptions  map[EventKind]int `json:"subscriptions"`
	Restarts       int               `json:"restarts"`
	LastError      string            `json:"last_error,omitempty"`
	LastTransition time.Time         `json:"last_transition"`
}

const (
	EventTypeStatus      = "STATUS"
	EventTypeObservation = "OBSERVATION"
	EventTypeInitial     = "INITIAL"
)

// MStatusEvent is pushed to websocket dashboard clients.
type MStatusEvent struct {
	Type        string           `json:"type"`
	Statuses    []MSessionStatus `json:"statuses,omitempty"`
	Observation *MObservation    `json:"observation,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// MSubscribeCommand is sent by dashboard clients to filter the live feed.
type MSubscribeCommand struct {
	Command    string   `json:"command"`
	AssetClass string   `json:"asset_class"`
	Symbols    []string `json:"symbols"`
}
