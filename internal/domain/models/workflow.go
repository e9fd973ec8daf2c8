package models

import "time"

// WorkflowStatus is the lifecycle status of a workflow instance.
type WorkflowStatus string

const (
	WorkflowDraft      WorkflowStatus = "DRAFT"
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowApproved   WorkflowStatus = "APPROVED"
	WorkflowRefused    WorkflowStatus = "REFUSED"
	WorkflowCancelled  WorkflowStatus = "CANCELLED"
	WorkflowArchived   WorkflowStatus = "ARCHIVED"
)

// StageStatus is the lifecycle status shared by phases and steps.
type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageApproved   StageStatus = "APPROVED"
	StageRefused    StageStatus = "REFUSED"
)

// Decision is a validator's vote on a step.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionRefuse  Decision = "REFUSE"
)

// ExecutionMode declares how a step participates in its phase. The mode is
// stored per step but interpreted at the phase level: one PARALLEL step makes
// the whole phase activate all of its steps together.
type ExecutionMode string

const (
	ExecutionSequential ExecutionMode = "SEQUENTIAL"
	ExecutionParallel   ExecutionMode = "PARALLEL"
)

// QuorumRule is the policy deciding when enough votes settle a step.
type QuorumRule string

const (
	QuorumUnanimity QuorumRule = "UNANIMITY"
	QuorumMajority  QuorumRule = "MAJORITY"
	QuorumAnyOf     QuorumRule = "ANY_OF"
)

// CircuitStructure is the definition a workflow instance is launched from.
// Instances always hold their own deep copy so that template edits after
// launch never reach a running workflow.
type CircuitStructure struct {
	Title  string            `json:"title"`
	Phases []PhaseDefinition `json:"phases"`
}

// PhaseDefinition is one ordered stage of a circuit definition.
type PhaseDefinition struct {
	Order int              `json:"order"`
	Name  string           `json:"name"`
	Steps []StepDefinition `json:"steps"`
}

// StepDefinition is one decision point inside a phase definition.
type StepDefinition struct {
	Order               int           `json:"order"`
	Name                string        `json:"name"`
	Execution           ExecutionMode `json:"execution"`
	QuorumRule          QuorumRule    `json:"quorum_rule"`
	QuorumCount         *int          `json:"quorum_count,omitempty"`
	Validators          []string      `json:"validators"`
	DeadlineOffsetHours *int          `json:"deadline_offset_hours,omitempty"`
}

// Clone returns an independent deep copy of the structure.
func (s CircuitStructure) Clone() CircuitStructure {
	out := CircuitStructure{Title: s.Title}
	if s.Phases == nil {
		return out
	}
	out.Phases = make([]PhaseDefinition, len(s.Phases))
	for i, p := range s.Phases {
		cp := PhaseDefinition{Order: p.Order, Name: p.Name}
		cp.Steps = make([]StepDefinition, len(p.Steps))
		for j, st := range p.Steps {
			cs := StepDefinition{
				Order:      st.Order,
				Name:       st.Name,
				Execution:  st.Execution,
				QuorumRule: st.QuorumRule,
			}
			if st.QuorumCount != nil {
				count := *st.QuorumCount
				cs.QuorumCount = &count
			}
			if st.DeadlineOffsetHours != nil {
				hours := *st.DeadlineOffsetHours
				cs.DeadlineOffsetHours = &hours
			}
			cs.Validators = append([]string(nil), st.Validators...)
			cp.Steps[j] = cs
		}
		out.Phases[i] = cp
	}
	return out
}

// HasParallelStep reports whether any step of the phase is PARALLEL, which
// makes the phase activate all of its steps together.
func (p PhaseDefinition) HasParallelStep() bool {
	for _, s := range p.Steps {
		if s.Execution == ExecutionParallel {
			return true
		}
	}
	return false
}

// CircuitTemplate is a stored, reusable circuit definition.
type CircuitTemplate struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Structure   CircuitStructure `json:"structure"`
	OwnerID     string           `json:"owner_id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// WorkflowInstance is one launched approval circuit.
type WorkflowInstance struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Status            WorkflowStatus   `json:"status"`
	CurrentPhaseIndex int              `json:"current_phase_index"`
	Structure         CircuitStructure `json:"structure"`
	InitiatorID       string           `json:"initiator_id"`
	DocumentIDs       []string         `json:"document_ids,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// PhaseInstance is one ordered stage of a running workflow.
type PhaseInstance struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflow_id"`
	Order      int         `json:"order"`
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// StepInstance is one decision point inside a phase of a running workflow.
// Activation counts the step's IN_PROGRESS lifecycles: refusal routing bumps
// it and the fresh activation owns its own action set and tokens.
type StepInstance struct {
	ID          string        `json:"id"`
	WorkflowID  string        `json:"workflow_id"`
	PhaseID     string        `json:"phase_id"`
	Order       int           `json:"order"`
	Name        string        `json:"name"`
	Status      StageStatus   `json:"status"`
	Execution   ExecutionMode `json:"execution"`
	QuorumRule  QuorumRule    `json:"quorum_rule"`
	QuorumCount *int          `json:"quorum_count,omitempty"`
	Validators  []string      `json:"validators"`
	// DecisionCount is a denormalized display value. Quorum math always
	// recounts workflow_actions rows instead.
	DecisionCount int        `json:"decision_count"`
	Activation    int        `json:"activation"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasValidator reports whether email belongs to the step's authorization set.
func (s *StepInstance) HasValidator(email string) bool {
	for _, v := range s.Validators {
		if v == email {
			return true
		}
	}
	return false
}

// WorkflowAction is one validator's immutable decision record on a step.
type WorkflowAction struct {
	ID         string    `json:"id"`
	StepID     string    `json:"step_id"`
	Activation int       `json:"activation"`
	ActorEmail string    `json:"actor_email"`
	ActorID    *string   `json:"actor_id,omitempty"`
	Decision   Decision  `json:"decision"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActionToken is a single-use credential binding (step, validator email,
// decision) to a secret. Only the SHA-256 digest of the secret is stored.
type ActionToken struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	StepID         string     `json:"step_id"`
	Activation     int        `json:"activation"`
	ValidatorEmail string     `json:"validator_email"`
	Decision       Decision   `json:"decision"`
	SecretHash     string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AuditEntry is one append-only record of an orchestration event.
type AuditEntry struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	StepID     *string   `json:"step_id,omitempty"`
	Action     string    `json:"action"`
	ActorID    *string   `json:"actor_id,omitempty"`
	ActorEmail *string   `json:"actor_email,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audit action names.
const (
	AuditLaunched    = "launched"
	AuditDecision    = "decision"
	AuditAdvanced    = "advanced"
	AuditReactivated = "reactivated"
	AuditCancelled   = "cancelled"
	AuditArchived    = "archived"
)

// Notification is one in-app notification row.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Link        string    `json:"link,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReminderJob is one pending deadline reminder, keyed by step id so that
// duplicate scheduling is a no-op.
type ReminderJob struct {
	StepID     string     `json:"step_id"`
	WorkflowID string     `json:"workflow_id"`
	DueAt      time.Time  `json:"due_at"`
	FiredAt    *time.Time `json:"fired_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
