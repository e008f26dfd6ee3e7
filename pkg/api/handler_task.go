package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// createTaskHandler handles POST /api/v1/tasks.
// Returns 201 with either the inquiry questions or the processing
// hand-off, 403 when the caller's daily quota is exhausted.
func (s *Server) createTaskHandler(c *echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	// 1. Parse request body
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// 2. Validate required fields
	req.Scene = strings.TrimSpace(req.Scene)
	req.UserInput = strings.TrimSpace(req.UserInput)
	if req.Scene == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scene is required")
	}
	if req.UserInput == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_input is required")
	}
	if len(req.UserInput) > maxUserInputBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "user_input exceeds maximum size")
	}

	// 3. Create the task
	result, err := s.tasks.CreateTask(c.Request().Context(), userID, req.Scene, req.UserInput)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

// submitAnswersHandler handles POST /api/v1/tasks/:id/answers.
func (s *Server) submitAnswersHandler(c *echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	taskID := c.Param("id")

	// 1. Parse request body
	var req SubmitAnswersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// 2. Enforce size limits and convert answer keys to question ids.
	//    JSON object keys arrive as strings.
	if len(req.IntermediateState) > maxIntermediateStateBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "intermediate_state exceeds maximum size")
	}
	answers := make(map[int]string, len(req.Answers))
	for key, value := range req.Answers {
		id, err := strconv.Atoi(key)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "answer keys must be question ids")
		}
		if len(value) > maxAnswerBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "answer exceeds maximum size")
		}
		answers[id] = value
	}

	// 3. Process the answers
	result, err := s.tasks.SubmitAnswers(c.Request().Context(), taskID, userID, answers, req.IntermediateState)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// startProcessingHandler handles POST /api/v1/tasks/:id/start-processing.
// Repeated calls against a started or finished task return 200 with a
// message saying so.
func (s *Server) startProcessingHandler(c *echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	result, err := s.tasks.StartProcessing(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	task, err := s.tasks.GetTask(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, task)
}

// listTasksHandler handles GET /api/v1/tasks. The service clamps limit
// and offset; the handler only rejects non-numeric values.
func (s *Server) listTasksHandler(c *echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "offset must be an integer")
	}

	result, err := s.tasks.ListTasks(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// queryInt parses an optional integer query parameter, zero when absent.
func queryInt(c *echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
