package models

import "time"

// View is a named saved filter over a service's telemetry.
type View struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Deployment is a release marker with its observed telemetry bounds.
type Deployment struct {
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Active    bool      `json:"active"`
}

// Process is a monitored JVM/agent process.
type Process struct {
	AppName        string `json:"app_name"`
	MachineName    string `json:"machine_name"`
	DeploymentName string `json:"deployment_name"`
	PIDCount       int    `json:"pid_count"`
}

// TransactionRequest bounds a transaction graph fetch.
type TransactionRequest struct {
	ServiceID   string
	ViewID      string
	Window      TimeWindow
	Resolution  Resolution
	Apps        []string
	Deployments []string
	Servers     []string
}
