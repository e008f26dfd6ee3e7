package phases

import (
	"context"
	"fmt"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

const (
	generateInquiryTemperature = 0.5
	processAnswersTemperature  = 0.3

	minQuestions = 3
	maxQuestions = 5
)

// inquirySheet is the JSON contract of the question generation call.
type inquirySheet struct {
	Questions []models.InquiryQuestion `json:"questions"`
}

// extraction is the JSON contract of the answer processing call.
type extraction struct {
	ExtractedInfo map[string]any `json:"extracted_info"`
	Summary       string         `json:"summary"`
}

// GenerateInquiry asks meta to write clarification questions for the
// missing information. The sheet is clamped to 3-5 questions: short sheets
// get a generic optional follow-up, long ones are cut at five. Failures
// degrade to a stock questionnaire so the inquiry branch always has
// something to show.
func GenerateInquiry(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	prompt := fmt.Sprintf(inquiryUserTemplate, state.Scene, state.UserInput, formatList(state.MissingInfo))
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: inquirySystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: generateInquiryTemperature})
	if err != nil {
		if ctxDone(ctx, err) {
			return nil, err
		}
		return inquiryFallback(state, fmt.Sprintf("question generation failed: %v", err), nil), nil
	}

	var sheet inquirySheet
	if err := parseJSON(res.Content, &sheet); err != nil || len(sheet.Questions) == 0 {
		reason := "question generation returned no questions"
		if err != nil {
			reason = fmt.Sprintf("question sheet unparseable: %v", err)
		}
		return inquiryFallback(state, reason, res), nil
	}

	questions := clampQuestions(sheet.Questions)
	return inquiryDelta(state, questions, res), nil
}

// clampQuestions enforces the 3-5 question window and repairs missing ids.
func clampQuestions(questions []models.InquiryQuestion) []models.InquiryQuestion {
	if len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}
	for i := range questions {
		if questions[i].ID == 0 {
			questions[i].ID = i + 1
		}
	}
	if len(questions) < minQuestions {
		questions = append(questions, models.InquiryQuestion{
			ID:          len(questions) + 1,
			Question:    "Is there anything else we should know?",
			Placeholder: "optional",
			Required:    false,
		})
	}
	return questions
}

// defaultQuestions is the stock questionnaire used when generation fails.
func defaultQuestions() []models.InquiryQuestion {
	return []models.InquiryQuestion{
		{ID: 1, Question: "What outcome are you hoping for?", Placeholder: "your main goal", Required: true},
		{ID: 2, Question: "What constraints should we respect?", Placeholder: "budget, timeline, resources", Required: false},
		{ID: 3, Question: "Is there background or context we should know?", Placeholder: "optional", Required: false},
	}
}

func inquiryDelta(state *models.PhaseState, questions []models.InquiryQuestion, res *llm.ChatResult) *models.PhaseDelta {
	texts := make([]string, len(questions))
	for i, q := range questions {
		texts[i] = q.Question
	}

	d := &models.PhaseDelta{
		InquiryQuestions: models.Strs(texts),
		InquiryDetails:   &questions,
		Audit: []models.AuditEntry{{
			Phase:  models.PhaseInquiry,
			Actor:  models.ActorMeta,
			Action: "generate_questions",
			Input:  auditInput(formatList(state.MissingInfo)),
			Output: fmt.Sprintf("%d questions", len(questions)),
		}},
	}
	if res != nil {
		d.Audit[0].TokensUsed = res.Tokens.Total
		d.Audit[0].Cost = res.Cost
		d.AddCost = res.Cost
	}
	return d
}

func inquiryFallback(state *models.PhaseState, reason string, res *llm.ChatResult) *models.PhaseDelta {
	d := inquiryDelta(state, defaultQuestions(), res)
	d.Audit[0].Output = "fallback: stock questionnaire"
	d.Audit[0].Reasoning = reason
	d.Error = models.Str(reason)
	return d
}

// ProcessAnswers folds the user's questionnaire answers into the collected
// info. An empty answer map means the user skipped the questions: record
// the skip and move on without an upstream call. Extraction failures fall
// back to storing the raw answers so nothing the user typed is lost.
func ProcessAnswers(ctx context.Context, mgr Caller, state *models.PhaseState, answers map[int]string) (*models.PhaseDelta, error) {
	if len(answers) == 0 {
		return &models.PhaseDelta{
			NeedInquiry: models.Bool(false),
			Audit: []models.AuditEntry{{
				Phase:  models.PhaseInquiry,
				Actor:  models.ActorUser,
				Action: "skip",
				Output: "user skipped the questions",
			}},
		}, nil
	}

	qaLines := questionAnswerLines(state.InquiryQuestions, answers)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: processAnswersSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(processAnswersUserTemplate, state.Scene, state.UserInput, qaLines)},
	}

	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: processAnswersTemperature})
	if err != nil {
		if ctxDone(ctx, err) {
			return nil, err
		}
		return answersFallback(state, answers, qaLines, fmt.Sprintf("answer extraction failed: %v", err), nil), nil
	}

	var ex extraction
	if err := parseJSON(res.Content, &ex); err != nil {
		return answersFallback(state, answers, qaLines, fmt.Sprintf("extraction unparseable: %v", err), res), nil
	}

	merged := mergeCollected(state.CollectedInfo, ex.ExtractedInfo)
	return &models.PhaseDelta{
		NeedInquiry:     models.Bool(false),
		CollectedInfo:   merged,
		InfoSufficiency: models.Float(1.0),
		MissingInfo:     models.Strs([]string{}),
		Audit: []models.AuditEntry{{
			Phase:      models.PhaseInquiry,
			Actor:      models.ActorMeta,
			Action:     "process_answers",
			Input:      auditInput(qaLines),
			Output:     fmt.Sprintf("extracted %d facts", len(ex.ExtractedInfo)),
			Reasoning:  ex.Summary,
			TokensUsed: res.Tokens.Total,
			Cost:       res.Cost,
		}},
		AddCost: res.Cost,
	}, nil
}

// answersFallback keeps the raw answers when extraction fails. The keys are
// synthetic but the user's input survives into the collaboration context.
func answersFallback(state *models.PhaseState, answers map[int]string, qaLines, reason string, res *llm.ChatResult) *models.PhaseDelta {
	raw := make(map[string]any, len(answers))
	for id, answer := range answers {
		raw[fmt.Sprintf("answer_%d", id)] = answer
	}

	d := &models.PhaseDelta{
		NeedInquiry:     models.Bool(false),
		CollectedInfo:   mergeCollected(state.CollectedInfo, raw),
		InfoSufficiency: models.Float(1.0),
		MissingInfo:     models.Strs([]string{}),
		Error:           models.Str(reason),
		Audit: []models.AuditEntry{{
			Phase:     models.PhaseInquiry,
			Actor:     models.ActorMeta,
			Action:    "process_answers",
			Input:     auditInput(qaLines),
			Output:    "fallback: stored raw answers",
			Reasoning: reason,
		}},
	}
	if res != nil {
		d.Audit[0].TokensUsed = res.Tokens.Total
		d.Audit[0].Cost = res.Cost
		d.AddCost = res.Cost
	}
	return d
}

// mergeCollected copies existing collected info and lays new facts over it.
func mergeCollected(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
