package server

// HealthStatus is the JSON body served by /health.
type HealthStatus struct {
	Status      string `json:"status"`
	Transport   string `json:"transport"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	Members     int    `json:"members"`
}
