package license

import "time"

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Health summarizes the entitlement layer without touching the network.
// Offline grace and an unconfigured build are degraded, not unhealthy: the
// process still serves ungated routes.
func (m *Manager) Health() ComponentHealth {
	st := m.Status()
	h := ComponentHealth{
		Timestamp: m.now(),
		Metadata: map[string]interface{}{
			"state":      string(st.State),
			"configured": m.rpc != nil,
		},
	}
	if st.Code != "" {
		h.Metadata["code"] = string(st.Code)
	}
	if st.ValidatedAt != nil {
		h.Metadata["validated_at"] = st.ValidatedAt.UTC().Format(time.RFC3339)
	}

	switch {
	case st.State == StateValid:
		h.Status, h.Message = HealthStatusHealthy, "license valid"
	case st.State == StateOfflineGrace:
		h.Status, h.Message = HealthStatusDegraded, "license service unreachable, offline grace in effect"
	case st.State == StateUnvalidated:
		h.Status, h.Message = HealthStatusDegraded, "license not checked yet"
	case m.rpc == nil:
		h.Status, h.Message = HealthStatusDegraded, "license service not configured"
	default:
		h.Status, h.Message = HealthStatusUnhealthy, "no valid license"
	}
	return h
}
