package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition version.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, not executable
	WorkflowStatusPublished WorkflowStatus = "published" // Immutable, executable
	WorkflowStatusArchived  WorkflowStatus = "archived"  // Immutable, not executable
)

// Workflow is one version of a workflow definition, identified by (ID, Version).
// Drafts are mutable in place; a published version is frozen forever.
type Workflow struct {
	ID          string         `json:"id"          validate:"required"`
	Version     int            `json:"version"     validate:"gte=1"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"      validate:"required"`
	Nodes       []*Node        `json:"nodes"`
	Edges       []*Edge        `json:"edges"`
	Triggers    []*TriggerSpec `json:"triggers"`
	Defaults    Defaults       `json:"defaults"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	ArchivedAt  *time.Time     `json:"archived_at,omitempty"`
}

// NodeKind discriminates the closed set of step behaviors.
type NodeKind string

const (
	NodeKindAgent     NodeKind = "agent"     // Formats a prompt and calls the execution backend
	NodeKindTransform NodeKind = "transform" // Renders a template against run state
	NodeKindDelay     NodeKind = "delay"     // Waits a configured duration
)

// Node is a typed step in the workflow graph.
type Node struct {
	ID               string         `json:"id"      validate:"required"`
	Name             string         `json:"name"    validate:"required,min=1"`
	Kind             NodeKind       `json:"kind"    validate:"required,oneof=agent transform delay"`
	Config           map[string]any `json:"config"`
	Enabled          bool           `json:"enabled"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
	TimeoutMS        *int64         `json:"timeout_ms,omitempty"` // Overrides Defaults.NodeTimeoutMS
}

// EdgeCondition tags a directed edge. ConditionAlways is unconditional;
// an expression condition is evaluated against the source node's output.
type EdgeCondition string

const (
	ConditionAlways EdgeCondition = "always"
	ConditionExpr   EdgeCondition = "expr"
)

// Edge is a directed connection between two nodes.
type Edge struct {
	ID         string        `json:"id"         validate:"required"`
	From       string        `json:"from"       validate:"required"`
	To         string        `json:"to"         validate:"required"`
	Condition  EdgeCondition `json:"condition,omitempty"`
	Expression string        `json:"expression,omitempty"` // Only for ConditionExpr
}

// EffectiveCondition resolves the default condition tag.
func (e *Edge) EffectiveCondition() EdgeCondition {
	if e.Condition == "" {
		return ConditionAlways
	}

	return e.Condition
}

// TriggerType discriminates how a workflow run gets started.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeQueue    TriggerType = "queue"
)

// TriggerSpec is a trigger declaration inside a workflow definition.
// Publishing materializes these into standalone Trigger rows.
type TriggerSpec struct {
	ID       string         `json:"id"       validate:"required"`
	Type     TriggerType    `json:"type"     validate:"required,oneof=manual schedule webhook queue"`
	Schedule *Schedule      `json:"schedule,omitempty"` // Required for TriggerTypeSchedule
	Config   map[string]any `json:"config,omitempty"`
	Enabled  bool           `json:"enabled"`
	MaxRuns  *int           `json:"max_runs,omitempty"`
}

// Defaults carries per-definition execution defaults applied to every run.
type Defaults struct {
	NodeTimeoutMS int64       `json:"node_timeout_ms,omitempty"`
	MaxRuntimeMS  int64       `json:"max_runtime_ms,omitempty"`
	Retry         RetryPolicy `json:"retry"`
}

// NodeTimeout returns the bound for a single node attempt, zero meaning unbounded.
func (d Defaults) NodeTimeout() time.Duration {
	return time.Duration(d.NodeTimeoutMS) * time.Millisecond
}

// MaxRuntime returns the bound for a whole run, zero meaning unbounded.
func (d Defaults) MaxRuntime() time.Duration {
	return time.Duration(d.MaxRuntimeMS) * time.Millisecond
}

// FindNode returns the node with the given id.
func (w *Workflow) FindNode(id string) (*Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return nil, false
}

// FindTrigger returns the trigger spec with the given id.
func (w *Workflow) FindTrigger(id string) (*TriggerSpec, bool) {
	for _, t := range w.Triggers {
		if t.ID == id {
			return t, true
		}
	}

	return nil, false
}
