package domain

// AgentStatus is the availability of an agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// Agent is a named capability provider consulted during pipeline stages.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Status       AgentStatus `json:"status"`
	Capabilities []string    `json:"capabilities"`
	Highlight    string      `json:"wow_factor"`
}

// IsActive returns true if the agent can take part in a stage.
func (a Agent) IsActive() bool {
	return a.Status == AgentActive
}

// Stage is one of the pipeline stages.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageOptimize Stage = "optimize"
	StagePublish  Stage = "publish"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageGenerate, StageOptimize, StagePublish}
