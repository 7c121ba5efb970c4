package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quietgrid/tasksync/internal/model"
)

// taskInput is the field set accepted on create and update
type taskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

func (in *taskInput) validate() string {
	if in.Title == "" {
		return "title is required"
	}
	if in.Status == "" {
		in.Status = model.StatusPending
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if !model.ValidStatus(in.Status) {
		return "invalid status"
	}
	if !model.ValidPriority(in.Priority) {
		return "invalid priority"
	}
	return ""
}

const taskColumns = `id, user_id, title, description, status, priority, due_date, completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (model.ServerTask, error) {
	var t model.ServerTask
	var due, completed sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status,
		&t.Priority, &due, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return t, nil
}

// handleListTasks returns every task owned by the caller
func (s *Server) handleListTasks(c echo.Context) error {
	userID := c.Get("user_id").(int64)

	rows, err := s.db.QueryContext(c.Request().Context(), `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
	}
	defer rows.Close()

	tasks := []model.ServerTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		}
		tasks = append(tasks, t)
	}

	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks})
}

// handleCreateTask inserts a task and returns the stored row with its id
func (s *Server) handleCreateTask(c echo.Context) error {
	userID := c.Get("user_id").(int64)

	var in taskInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if msg := in.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
	}

	row := s.db.QueryRowContext(c.Request().Context(), `
		INSERT INTO tasks (user_id, title, description, status, priority, due_date, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6,
		        CASE WHEN $4 = 'completed' THEN NOW() END)
		RETURNING `+taskColumns,
		userID, in.Title, in.Description, in.Status, in.Priority, in.DueDate,
	)
	t, err := scanTask(row)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
	}

	return c.JSON(http.StatusCreated, map[string]any{"task": t})
}

// handleUpdateTask replaces the mutable fields of an existing task
func (s *Server) handleUpdateTask(c echo.Context) error {
	userID := c.Get("user_id").(int64)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid task id"})
	}

	var in taskInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if msg := in.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
	}

	row := s.db.QueryRowContext(c.Request().Context(), `
		UPDATE tasks
		SET title = $3,
		    description = $4,
		    status = $5,
		    priority = $6,
		    due_date = $7,
		    completed_at = CASE
		        WHEN $5 = 'completed' THEN COALESCE(completed_at, NOW())
		        ELSE NULL
		    END,
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		id, userID, in.Title, in.Description, in.Status, in.Priority, in.DueDate,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update task"})
	}

	return c.JSON(http.StatusOK, map[string]any{"task": t})
}

// handleDeleteTask removes a task. Deleting a task that does not exist is a
// 404 so clients can treat it as already gone.
func (s *Server) handleDeleteTask(c echo.Context) error {
	userID := c.Get("user_id").(int64)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid task id"})
	}

	result, err := s.db.ExecContext(c.Request().Context(),
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete task"})
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "task deleted"})
}
