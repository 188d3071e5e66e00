package healthcheck

// Status is the body of a healthcheck response.
type Status struct {
	Healthy  bool   `json:"healthy"`
	PingTime string `json:"pingTime"`
	Error    string `json:"error,omitempty"`
}
