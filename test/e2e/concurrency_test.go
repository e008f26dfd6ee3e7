package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/models"
)

// ────────────────────────────────────────────────────────────
// Scenario 6: duplicate workers. start-processing fired from many
// clients at once; exactly one caller wins the status swap and
// launches the run, the rest get the idempotent answer.
// ────────────────────────────────────────────────────────────
func TestStartProcessingRace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	app := NewTestApp(t)
	app.SeedUser(t, "user-race", 10)
	app.Caller.
		Meta(evalInsufficientJSON).
		Meta(questionsJSON).
		Meta(extractionJSON).
		Meta(planDebateJSON).
		Meta(convergedJSON).
		Meta(finalDocJSON).
		A("Go, the timeline is set.").
		B("Agreed, nothing holds it back.")

	created := app.CreateTask(t, "user-race", "career", "Thinking about changing teams.")
	taskID := created["task_id"].(string)
	app.SubmitAnswers(t, "user-race", taskID, map[string]string{"1": "next quarter"}, created["intermediate_state"])

	const callers = 8
	statuses := make([]int, callers)
	messages := make([]string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, raw := app.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/start-processing", "user-race", nil)
			statuses[i] = status
			var body map[string]any
			if json.Unmarshal(raw, &body) == nil {
				messages[i], _ = body["message"].(string)
			}
		}(i)
	}
	wg.Wait()

	var started, already int
	for i := 0; i < callers; i++ {
		require.Equal(t, http.StatusOK, statuses[i], "caller %d: %s", i, messages[i])
		switch messages[i] {
		case "processing started":
			started++
		case "task already processing", "task already completed":
			already++
		default:
			t.Fatalf("caller %d: unexpected message %q", i, messages[i])
		}
	}
	require.Equal(t, 1, started, "exactly one caller may launch the run")
	require.Equal(t, callers-1, already)

	// The single run finishes and its progress history has no gaps.
	app.WaitForTaskStatus(t, taskID, models.StatusCompleted)
	items := app.GetProgress(t, "user-race", taskID)
	require.NotEmpty(t, items)
	for i, item := range items {
		assert.Equal(t, int64(i+1), item.Seq)
	}

	// One task, one quota slot, one completion on the books.
	user, err := app.Users.Get(context.Background(), "user-race")
	require.NoError(t, err)
	assert.Equal(t, 1, user.DailyUsed)
	assert.Equal(t, 1, user.TotalTasks)
}

// ────────────────────────────────────────────────────────────
// Scenario 7: quota race. Task creation hammered past the daily
// quota; the counter is authoritative and exactly quota-many
// creates succeed no matter how the requests interleave.
// ────────────────────────────────────────────────────────────
func TestCreateTaskQuotaRace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	const quota = 3
	const attempts = 8

	app := NewTestApp(t)
	app.SeedUser(t, "user-quota", quota)
	// Creates interleave, so replies are routed by prompt rather than
	// scripted in order.
	for i := 0; i < quota; i++ {
		app.Caller.
			MetaRouted("information intake assessor", evalInsufficientJSON).
			MetaRouted("clarification questionnaires", questionsJSON)
	}

	statuses := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := map[string]any{"scene": "career", "user_input": "Thinking about changing teams."}
			statuses[i], _ = app.do(t, http.MethodPost, "/api/v1/tasks", "user-quota", body)
		}(i)
	}
	wg.Wait()

	var created, rejected int
	for i := 0; i < attempts; i++ {
		switch statuses[i] {
		case http.StatusCreated:
			created++
		case http.StatusForbidden:
			rejected++
		default:
			t.Fatalf("attempt %d: unexpected status %d", i, statuses[i])
		}
	}
	require.Equal(t, quota, created)
	require.Equal(t, attempts-quota, rejected)

	user, err := app.Users.Get(context.Background(), "user-quota")
	require.NoError(t, err)
	assert.Equal(t, quota, user.DailyUsed)

	listing := app.ListTasks(t, "user-quota", "")
	require.EqualValues(t, quota, listing["total"])
}
