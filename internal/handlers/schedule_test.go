package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/schedule"
)

func TestScheduleHandlerRunAndList(t *testing.T) {
	svc := schedule.NewService(nil)
	runs := 0
	require.NoError(t, svc.Register("sweep", "@every 1h", schedule.TaskFunc(func(context.Context) error {
		runs++
		return nil
	})))
	require.NoError(t, svc.Register("broken", "@every 1h", schedule.TaskFunc(func(context.Context) error {
		return errors.New("boom")
	})))

	e := echo.New()
	NewScheduleHandler(nil, svc).Register(e)
	serve := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
		return rec
	}

	rec := serve(http.MethodPost, "/jobs/sweep/run")
	require.Equal(t, http.StatusOK, rec.Code)
	var job schedule.Job
	decode(t, rec, &job)
	assert.Equal(t, "sweep", job.Name)
	assert.Equal(t, 1, job.Runs)
	assert.Equal(t, 1, runs)

	assert.Equal(t, http.StatusInternalServerError, serve(http.MethodPost, "/jobs/broken/run").Code)
	assert.Equal(t, http.StatusNotFound, serve(http.MethodPost, "/jobs/missing/run").Code)

	rec = serve(http.MethodGet, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	var list JobsResponse
	decode(t, rec, &list)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "broken", list.Items[0].Name)
	assert.Equal(t, 1, list.Items[0].Failures)
}
