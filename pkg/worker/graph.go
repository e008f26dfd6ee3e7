package worker

import (
	"context"

	"github.com/jexlab/jex/pkg/models"
	"github.com/jexlab/jex/pkg/phases"
	"github.com/jexlab/jex/pkg/pipeline"
)

// NewTaskGraph wires the phase functions into the task pipeline:
//
//	evaluate ─┬─ need inquiry ──> generate_inquiry ──> END
//	          └────────────────> planning ─┬─ review ──> review_collaborate ─╮
//	                                        └─ debate ──> debate_collaborate ─┤
//	                             (self-loop while !ShouldStop && round < cap) │
//	                                                     integrate <──────────╯
//	                                                     integrate ──> END
//
// The foreground prelude runs it from the entry with a stop before
// planning; the background runner re-enters at planning and, after the
// collaboration loop exits, at integrate.
func NewTaskGraph(caller phases.Caller, hardRoundCap int) (*pipeline.Engine, error) {
	node := func(fn func(context.Context, phases.Caller, *models.PhaseState) (*models.PhaseDelta, error)) pipeline.NodeFunc {
		return func(ctx context.Context, state *models.PhaseState) (*models.PhaseDelta, error) {
			return fn(ctx, caller, state)
		}
	}

	g := pipeline.New(pipeline.NodeEvaluate)
	g.AddNode(pipeline.NodeEvaluate, node(phases.Evaluate))
	g.AddNode(pipeline.NodeGenerateInquiry, node(phases.GenerateInquiry))
	g.AddNode(pipeline.NodePlanning, node(phases.Planning))
	g.AddNode(pipeline.NodeDebate, node(phases.Debate))
	g.AddNode(pipeline.NodeReview, node(phases.Review))
	g.AddNode(pipeline.NodeIntegrate, node(phases.Integrate))

	g.AddConditionalEdge(pipeline.NodeEvaluate, func(s *models.PhaseState) bool {
		return s.NeedInquiry
	}, pipeline.NodeGenerateInquiry)
	g.AddEdge(pipeline.NodeEvaluate, pipeline.NodePlanning)
	g.AddEdge(pipeline.NodeGenerateInquiry, pipeline.End)

	g.AddConditionalEdge(pipeline.NodePlanning, func(s *models.PhaseState) bool {
		return s.CollaborationMode == models.ModeReview
	}, pipeline.NodeReview)
	g.AddEdge(pipeline.NodePlanning, pipeline.NodeDebate)

	// The hard cap bounds the loop even if a phase bug keeps ShouldStop
	// false past the planner's round budget.
	again := func(s *models.PhaseState) bool {
		return !s.ShouldStop && s.CurrentRound < hardRoundCap
	}
	g.AddConditionalEdge(pipeline.NodeDebate, again, pipeline.NodeDebate)
	g.AddEdge(pipeline.NodeDebate, pipeline.NodeIntegrate)
	g.AddConditionalEdge(pipeline.NodeReview, again, pipeline.NodeReview)
	g.AddEdge(pipeline.NodeReview, pipeline.NodeIntegrate)

	g.AddEdge(pipeline.NodeIntegrate, pipeline.End)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
