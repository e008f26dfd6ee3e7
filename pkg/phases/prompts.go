package phases

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt templates for the phase functions. Every template that expects
// structured output spells out the exact JSON contract; the parser accepts
// surrounding chatter but the contract keys are load-bearing.

// evaluateSystemPrompt frames meta as the intake assessor.
const evaluateSystemPrompt = `You are an information intake assessor. You judge whether a user request carries enough information for two AI experts to work on it, and you extract what is already known. You respond with JSON only.`

// evaluateUserTemplate asks meta to assess the request.
// %s = scene, %s = user input.
const evaluateUserTemplate = `Assess the following request.

Scene: %s

User request:
%s

Extract the information the request already provides and list the critical pieces that are still missing. Respond with a single JSON object:
{
  "provided_info": {"<aspect>": "<what the user already told us>"},
  "missing_critical_info": ["<missing piece>", ...],
  "info_sufficiency": <0.0-1.0>,
  "need_inquiry": <true|false>,
  "reason": "<one or two sentences explaining the verdict>"
}

Set need_inquiry to true only when the missing pieces would materially change the advice.`

// inquirySystemPrompt frames meta as the question writer.
const inquirySystemPrompt = `You write short clarification questionnaires. Questions must be concrete, answerable in one line, and never overlap. You respond with JSON only.`

// inquiryUserTemplate asks meta to generate clarification questions.
// %s = scene, %s = user input, %s = missing info list.
const inquiryUserTemplate = `A user made the following request and we need clarification before two AI experts can work on it.

Scene: %s

User request:
%s

Missing information:
%s

Write 3 to 5 clarification questions covering the missing information. Respond with a single JSON object:
{
  "questions": [
    {"id": 1, "question": "<the question>", "placeholder": "<example answer>", "required": <true|false>}
  ]
}`

// processAnswersSystemPrompt frames meta as the answer normalizer.
const processAnswersSystemPrompt = `You turn raw questionnaire answers into structured facts. Keep the user's meaning; do not invent information. You respond with JSON only.`

// processAnswersUserTemplate asks meta to extract structured info from the
// user's answers. %s = scene, %s = user input, %s = question/answer lines.
const processAnswersUserTemplate = `A user answered our clarification questions.

Scene: %s

Original request:
%s

Questions and answers:
%s

Extract the facts the answers establish. Respond with a single JSON object:
{
  "extracted_info": {"<aspect>": "<fact>"},
  "summary": "<one sentence summarizing what we learned>"
}`

// planningSystemPrompt frames meta as the collaboration planner.
const planningSystemPrompt = `You plan how two AI experts should collaborate on a task. Mode "debate" suits open questions with competing approaches; mode "review" suits tasks with one deliverable that benefits from drafting and critique. You respond with JSON only.`

// planningUserTemplate asks meta to pick the collaboration mode and roles.
// %s = scene, %s = user input, %s = known info lines.
const planningUserTemplate = `Plan the collaboration for this task.

Scene: %s

User request:
%s

Known information:
%s

Decide the task type, the collaboration mode, the role each expert plays, and how many rounds the collaboration may take. Respond with a single JSON object:
{
  "task_type": "<short label>",
  "collaboration_mode": "debate" | "review",
  "ai_a_role": "<perspective or responsibility for expert A>",
  "ai_b_role": "<perspective or responsibility for expert B>",
  "max_rounds": <1-5>,
  "reasoning": "<why this mode and these roles>"
}`

// debateOpeningTemplate asks one expert for its opening position.
// %s = role, %s = scene, %s = user input, %s = known info lines.
const debateOpeningTemplate = `You are an expert taking this perspective: %s

Scene: %s

User request:
%s

Known information:
%s

Give your position: your recommendation, the key reasons behind it, and the risks the user should weigh. Be substantive and concrete; do not hedge into generalities.`

// debateRebuttalTemplate asks one expert to respond to the other's position.
// %s = role, %s = scene, %s = user input, %s = own prior position,
// %s = the other expert's position.
const debateRebuttalTemplate = `You are an expert taking this perspective: %s

Scene: %s

User request:
%s

Your position last round:
%s

The other expert argued:
%s

Respond to their argument. Concede the points they got right, push back where they are wrong, and refine your recommendation. Only raise points that add something new; if you have nothing new, say so briefly.`

// divergenceSystemPrompt frames meta as the debate referee.
const divergenceSystemPrompt = `You referee a debate between two AI experts. You judge whether their positions meaningfully diverge. You respond with JSON only.`

// divergenceUserTemplate asks meta whether round 1 positions diverge.
// %s = A's position, %s = B's position.
const divergenceUserTemplate = `Two experts stated their positions on the same request.

Expert A:
%s

Expert B:
%s

Do the positions diverge in a way that matters to the user (different recommendation, different priorities, incompatible assumptions)? Respond with a single JSON object:
{
  "has_significant_divergence": <true|false>,
  "divergence_points": ["<point of disagreement>", ...],
  "reason": "<one sentence>"
}`

// noveltyUserTemplate asks meta whether the latest round added anything new.
// %d = round number, %s = A's latest, %s = B's latest.
const noveltyUserTemplate = `Round %d of the debate just finished.

Expert A said:
%s

Expert B said:
%s

Compared with what was already on the table, did this round surface genuinely new points or evidence? Restating or rephrasing earlier positions does not count. Respond with a single JSON object:
{
  "has_novelty": <true|false>,
  "new_points": ["<new point>", ...],
  "reason": "<one sentence>"
}`

// reviewDraftTemplate asks expert A for the initial deliverable.
// %s = role, %s = scene, %s = user input, %s = known info lines.
const reviewDraftTemplate = `You are an expert taking this responsibility: %s

Scene: %s

User request:
%s

Known information:
%s

Produce the deliverable the user asked for. Make it complete enough to act on: concrete recommendations, the reasoning behind them, and the caveats that matter.`

// reviewCritiqueTemplate asks expert B to review A's work.
// %s = role, %s = scene, %s = user input, %s = the draft under review.
const reviewCritiqueTemplate = `You are a reviewer taking this responsibility: %s

Scene: %s

User request:
%s

Draft under review:
%s

Review the draft. List the concrete issues (errors, gaps, unsupported claims) and a suggestion for each. Do not rewrite the draft; only critique it. If the draft is solid, say so and keep the list short.`

// reviewReviseTemplate asks expert A to revise its draft against the review.
// %s = role, %s = scene, %s = user input, %s = prior draft, %s = review.
const reviewReviseTemplate = `You are an expert taking this responsibility: %s

Scene: %s

User request:
%s

Your previous draft:
%s

Reviewer feedback:
%s

Revise the draft. Fix every issue the reviewer is right about and keep what already works. Return the full revised deliverable, not a diff.`

// improvementSystemPrompt frames meta as the quality gate.
const improvementSystemPrompt = `You are the quality gate for a draft-and-review loop. You decide whether another revision round is worth its cost. You respond with JSON only.`

// improvementUserTemplate asks meta whether the draft needs another round.
// %s = the current draft, %s = the reviewer's feedback.
const improvementUserTemplate = `A draft and its review just finished a round.

Current draft:
%s

Reviewer feedback:
%s

Does the draft need another revision round, or is it good enough to ship? Minor polish does not justify a round. Respond with a single JSON object:
{
  "needs_improvement": <true|false>,
  "severity": "low" | "medium" | "high",
  "key_issues": ["<issue that forces a revision>", ...],
  "reason": "<one sentence>"
}`

// integrateSystemPrompt frames meta as the report writer.
const integrateSystemPrompt = `You merge the outputs of two AI experts into one final report for the user. You never invent content that neither expert produced, and you surface their disagreements instead of papering over them. You respond with JSON only.`

// integrateUserTemplate asks meta for the final document.
// %s = scene, %s = user input, %s = known info, %s = collaboration summary,
// %s = A's final output, %s = B's final output.
const integrateUserTemplate = `Write the final report for this request.

Scene: %s

User request:
%s

Known information:
%s

Collaboration summary:
%s

Expert A's final output:
%s

Expert B's final output:
%s

Respond with a single JSON object in exactly this shape:
{
  "executive_summary": {"tldr": "<2-3 sentences>", "key_actions": ["<action>", ...]},
  "certain_advice": {"title": "<heading>", "content": "<advice grounded in what we know>", "risks": ["<risk>", ...]},
  "hypothetical_advice": [{"condition": "<if this holds>", "suggestion": "<then do this>"}],
  "divergences": [{"issue": "<topic>", "ai_a_view": "<A's view>", "ai_a_reason": "<why>", "ai_b_view": "<B's view>", "ai_b_reason": "<why>", "our_suggestion": "<how the user should decide>"}],
  "hooks": {"satisfaction_check": "<question inviting feedback>", "missing_info_hint": ["<info that would sharpen the advice>", ...]}
}

Leave divergences empty when the experts agree. Keep hypothetical_advice for advice that depends on information we do not have.`

// questionAnswerLines renders question/answer pairs for the answer
// processing prompt. Answers are ordered by question id.
func questionAnswerLines(questions []string, answers map[int]string) string {
	if len(answers) == 0 {
		return "(none)"
	}

	ids := make([]int, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	lines := make([]string, 0, len(answers))
	for _, id := range ids {
		q := fmt.Sprintf("question %d", id)
		if id >= 1 && id <= len(questions) {
			q = questions[id-1]
		}
		lines = append(lines, fmt.Sprintf("Q%d: %s\nA%d: %s", id, q, id, answers[id]))
	}
	return strings.Join(lines, "\n")
}
