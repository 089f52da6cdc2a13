package idpclient

// Stats is a point-in-time view of the client's counters.
type Stats struct {
	MaxConnections       int    `json:"max_connections"`
	InFlight             int64  `json:"in_flight"`
	Available            int64  `json:"available"`
	TotalCalls           uint64 `json:"total_calls"`
	SucceededCalls       uint64 `json:"succeeded_calls"`
	FailedCalls          uint64 `json:"failed_calls"`
	AdminAuthentications uint64 `json:"admin_authentications"`
	NewConnections       uint64 `json:"new_connections"`
	ReusedConnections    uint64 `json:"reused_connections"`
}

// ConnectionPoolStats returns the current counters. Fields are read
// independently so the snapshot may be slightly inconsistent under load.
func (c *Client) ConnectionPoolStats() Stats {
	inFlight := c.stats.inFlight.Load()
	return Stats{
		MaxConnections:       c.cfg.MaxConnections,
		InFlight:             inFlight,
		Available:            int64(c.cfg.MaxConnections) - inFlight,
		TotalCalls:           c.stats.total.Load(),
		SucceededCalls:       c.stats.succeeded.Load(),
		FailedCalls:          c.stats.failed.Load(),
		AdminAuthentications: c.stats.adminAuths.Load(),
		NewConnections:       c.stats.newConns.Load(),
		ReusedConnections:    c.stats.reused.Load(),
	}
}
