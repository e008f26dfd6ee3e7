package models

import "encoding/json"

// PhaseState is the single state object threaded through all phases of a
// task. Phases never mutate it directly; they return a PhaseDelta which the
// pipeline applies. The JSON form is what gets persisted as the task's
// processing_state blob between the foreground prelude and the background
// worker.
type PhaseState struct {
	// Identity. Always rebuilt from the task row, never from client input.
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Scene     string `json:"scene"`
	UserInput string `json:"user_input"`

	// Phase 0: evaluation.
	NeedInquiry     bool           `json:"need_inquiry"`
	ProvidedInfo    map[string]any `json:"provided_info,omitempty"`
	MissingInfo     []string       `json:"missing_info,omitempty"`
	InfoSufficiency float64        `json:"info_sufficiency"`

	// Phase 1: inquiry.
	InquiryQuestions []string          `json:"inquiry_questions,omitempty"`
	InquiryDetails   []InquiryQuestion `json:"inquiry_details,omitempty"`
	CollectedInfo    map[string]any    `json:"collected_info,omitempty"`

	// Phase 2: planning.
	TaskType          string `json:"task_type,omitempty"`
	CollaborationMode string `json:"collaboration_mode,omitempty"`
	AIARole           string `json:"ai_a_role,omitempty"`
	AIBRole           string `json:"ai_b_role,omitempty"`

	// Phase 3: collaboration.
	AIAOutput    string        `json:"ai_a_output,omitempty"`
	AIBOutput    string        `json:"ai_b_output,omitempty"`
	DebateRounds []DebateRound `json:"debate_rounds,omitempty"`

	// Round control.
	CurrentRound int    `json:"current_round"`
	MaxRounds    int    `json:"max_rounds"`
	ShouldStop   bool   `json:"should_stop"`
	StopReason   string `json:"stop_reason,omitempty"`

	// Phase 5: output.
	FinalOutput *FinalDocument `json:"final_output,omitempty"`

	// Accumulators.
	AuditTrail   []AuditEntry `json:"audit_trail"`
	TotalCost    float64      `json:"total_cost"`
	LastProgress int          `json:"last_progress"`
	Error        string       `json:"error,omitempty"`
}

// NewPhaseState builds the initial state for a task.
func NewPhaseState(taskID, userID, scene, userInput string) *PhaseState {
	return &PhaseState{
		TaskID:     taskID,
		UserID:     userID,
		Scene:      scene,
		UserInput:  userInput,
		AuditTrail: []AuditEntry{},
	}
}

// PhaseDelta is the tagged set of changes a phase function returns. Pointer
// and map fields are applied only when non-nil; Audit entries are appended
// in order with Step assigned at append time; AddCost is added to the
// running total.
type PhaseDelta struct {
	NeedInquiry      *bool
	ProvidedInfo     map[string]any
	MissingInfo      *[]string
	InfoSufficiency  *float64
	InquiryQuestions *[]string
	InquiryDetails   *[]InquiryQuestion
	CollectedInfo    map[string]any

	TaskType          *string
	CollaborationMode *string
	AIARole           *string
	AIBRole           *string

	AIAOutput    *string
	AIBOutput    *string
	AppendRounds []DebateRound

	CurrentRound *int
	MaxRounds    *int
	ShouldStop   *bool
	StopReason   *string

	FinalOutput *FinalDocument
	Error       *string

	Audit   []AuditEntry
	AddCost float64
}

// Apply merges a delta into the state. Fields the delta does not carry are
// preserved. ShouldStop is sticky: once true it cannot be unset. Cost only
// ever grows.
func (s *PhaseState) Apply(d *PhaseDelta) {
	if d == nil {
		return
	}

	if d.NeedInquiry != nil {
		s.NeedInquiry = *d.NeedInquiry
	}
	if d.ProvidedInfo != nil {
		s.ProvidedInfo = d.ProvidedInfo
	}
	if d.MissingInfo != nil {
		s.MissingInfo = *d.MissingInfo
	}
	if d.InfoSufficiency != nil {
		s.InfoSufficiency = *d.InfoSufficiency
	}
	if d.InquiryQuestions != nil {
		s.InquiryQuestions = *d.InquiryQuestions
	}
	if d.InquiryDetails != nil {
		s.InquiryDetails = *d.InquiryDetails
	}
	if d.CollectedInfo != nil {
		s.CollectedInfo = d.CollectedInfo
	}
	if d.TaskType != nil {
		s.TaskType = *d.TaskType
	}
	if d.CollaborationMode != nil {
		s.CollaborationMode = *d.CollaborationMode
	}
	if d.AIARole != nil {
		s.AIARole = *d.AIARole
	}
	if d.AIBRole != nil {
		s.AIBRole = *d.AIBRole
	}
	if d.AIAOutput != nil {
		s.AIAOutput = *d.AIAOutput
	}
	if d.AIBOutput != nil {
		s.AIBOutput = *d.AIBOutput
	}
	if len(d.AppendRounds) > 0 {
		s.DebateRounds = append(s.DebateRounds, d.AppendRounds...)
	}
	if d.CurrentRound != nil {
		s.CurrentRound = *d.CurrentRound
	}
	if d.MaxRounds != nil {
		s.MaxRounds = *d.MaxRounds
	}
	if d.ShouldStop != nil && *d.ShouldStop {
		s.ShouldStop = true
	}
	if d.StopReason != nil {
		s.StopReason = *d.StopReason
	}
	if d.FinalOutput != nil {
		s.FinalOutput = d.FinalOutput
	}
	if d.Error != nil {
		s.Error = *d.Error
	}
	for _, e := range d.Audit {
		e.Step = len(s.AuditTrail)
		s.AuditTrail = append(s.AuditTrail, e)
	}
	if d.AddCost > 0 {
		s.TotalCost += d.AddCost
	}
}

// Marshal serializes the state for the processing_state column.
func (s *PhaseState) Marshal() (json.RawMessage, error) {
	return json.Marshal(s)
}

// UnmarshalPhaseState restores a state blob persisted by Marshal.
func UnmarshalPhaseState(data json.RawMessage) (*PhaseState, error) {
	var s PhaseState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.AuditTrail == nil {
		s.AuditTrail = []AuditEntry{}
	}
	return &s, nil
}

// Bool, Int, Float, Str and Strs build pointer fields for PhaseDelta literals.
func Bool(v bool) *bool         { return &v }
func Int(v int) *int            { return &v }
func Float(v float64) *float64  { return &v }
func Str(v string) *string      { return &v }
func Strs(v []string) *[]string { return &v }
