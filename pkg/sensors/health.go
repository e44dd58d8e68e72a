package sensors

// HealthState is the coarse health vocabulary exposed by the polling
// engine. The original implementation's hardware layer tracks a six-level
// gradient; this is collapsed to the three states the rest of the system
// actually branches on.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)
