package index_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docsearch/features/index"
	"docsearch/internal/indexer"
)

type MockCoordinator struct{ mock.Mock }

func (m *MockCoordinator) Start(ctx context.Context, rebuild bool, trigger string) (string, error) {
	args := m.Called(ctx, rebuild, trigger)
	return args.String(0), args.Error(1)
}

func (m *MockCoordinator) Run(ctx context.Context, rebuild bool, trigger string, progress indexer.Progress) (indexer.Build, error) {
	args := m.Called(ctx, rebuild, trigger, progress)
	return args.Get(0).(indexer.Build), args.Error(1)
}

func (m *MockCoordinator) Status() indexer.Status {
	return m.Called().Get(0).(indexer.Status)
}

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Start(ctx context.Context, b indexer.Build) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockRepo) Finish(ctx context.Context, b indexer.Build) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockRepo) List(ctx context.Context, limit int) ([]index.Record, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]index.Record), args.Error(1)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_Build(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		setup      func(*MockCoordinator)
		wantStatus int
		wantCode   string
	}{
		{
			name: "accepted",
			url:  "/index/build?rebuild=true",
			setup: func(c *MockCoordinator) {
				c.On("Start", mock.Anything, true, indexer.TriggerHTTP).Return("b1", nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "incremental by default",
			url:  "/index/build",
			setup: func(c *MockCoordinator) {
				c.On("Start", mock.Anything, false, indexer.TriggerHTTP).Return("b2", nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "conflict while running",
			url:  "/index/build",
			setup: func(c *MockCoordinator) {
				c.On("Start", mock.Anything, false, indexer.TriggerHTTP).Return("", indexer.ErrBuildInProgress)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name:       "invalid rebuild flag",
			url:        "/index/build?rebuild=maybe",
			setup:      func(c *MockCoordinator) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := new(MockCoordinator)
			tt.setup(c)
			h := index.NewHandler(c, nil)

			w := httptest.NewRecorder()
			h.Build(w, httptest.NewRequest(http.MethodPost, tt.url, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error"].(map[string]interface{})["code"])
			} else {
				assert.NotEmpty(t, body["data"].(map[string]interface{})["build_id"])
			}
			c.AssertExpectations(t)
		})
	}
}

func TestHandler_BuildSync(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c := new(MockCoordinator)
		c.On("Run", mock.Anything, true, indexer.TriggerHTTP, nil).Return(indexer.Build{
			ID: "b1", State: indexer.StateDone,
			Result: &indexer.BuildResult{Success: true, Message: indexer.MessageBuilt, TotalChunks: 3},
		}, nil)

		w := httptest.NewRecorder()
		index.NewHandler(c, nil).BuildSync(w, httptest.NewRequest(http.MethodPost, "/index/build/sync?rebuild=1", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, "done", data["state"])
		assert.Equal(t, float64(3), data["result"].(map[string]interface{})["total_chunks"])
	})

	t.Run("failed build", func(t *testing.T) {
		c := new(MockCoordinator)
		c.On("Run", mock.Anything, false, indexer.TriggerHTTP, nil).Return(indexer.Build{
			ID: "b1", State: indexer.StateFailed,
			Result: &indexer.BuildResult{Success: false, Error: "No supported files found in './docs'."},
		}, nil)

		w := httptest.NewRecorder()
		index.NewHandler(c, nil).BuildSync(w, httptest.NewRequest(http.MethodPost, "/index/build/sync", nil))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode(t, w)
		errObj := body["error"].(map[string]interface{})
		assert.Equal(t, "BUILD_FAILED", errObj["code"])
		assert.Contains(t, errObj["message"], "No supported files found")
		assert.NotNil(t, body["data"])
	})

	t.Run("busy", func(t *testing.T) {
		c := new(MockCoordinator)
		c.On("Run", mock.Anything, false, indexer.TriggerHTTP, nil).Return(indexer.Build{}, indexer.ErrBuildInProgress)

		w := httptest.NewRecorder()
		index.NewHandler(c, nil).BuildSync(w, httptest.NewRequest(http.MethodPost, "/index/build/sync", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandler_Status(t *testing.T) {
	c := new(MockCoordinator)
	c.On("Status").Return(indexer.Status{State: indexer.StateRunning, Current: &indexer.Build{ID: "b1"}})

	w := httptest.NewRecorder()
	index.NewHandler(c, nil).Status(w, httptest.NewRequest(http.MethodGet, "/index/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "running", data["state"])
	assert.Equal(t, "b1", data["current"].(map[string]interface{})["build_id"])
}

func TestHandler_List(t *testing.T) {
	t.Run("history disabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		index.NewHandler(new(MockCoordinator), nil).List(w, httptest.NewRequest(http.MethodGet, "/index/builds", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("success with limit", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything, 5).Return([]index.Record{{ID: "b1"}}, nil)
		repo.On("Count", mock.Anything).Return(12, nil)

		w := httptest.NewRecorder()
		index.NewHandler(new(MockCoordinator), repo).List(w, httptest.NewRequest(http.MethodGet, "/index/builds?limit=5", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		meta := decode(t, w)["meta"].(map[string]interface{})
		assert.Equal(t, float64(1), meta["count"])
		assert.Equal(t, float64(12), meta["total"])
	})

	t.Run("limit is capped", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything, 200).Return([]index.Record{}, nil)
		repo.On("Count", mock.Anything).Return(0, nil)

		w := httptest.NewRecorder()
		index.NewHandler(new(MockCoordinator), repo).List(w, httptest.NewRequest(http.MethodGet, "/index/builds?limit=9999", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("bad limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		index.NewHandler(new(MockCoordinator), new(MockRepo)).List(w, httptest.NewRequest(http.MethodGet, "/index/builds?limit=-1", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("repo error", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything, 20).Return(nil, errors.New("db down"))

		w := httptest.NewRecorder()
		index.NewHandler(new(MockCoordinator), repo).List(w, httptest.NewRequest(http.MethodGet, "/index/builds", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("count error", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything, 20).Return([]index.Record{}, nil)
		repo.On("Count", mock.Anything).Return(0, errors.New("db down"))

		w := httptest.NewRecorder()
		index.NewHandler(new(MockCoordinator), repo).List(w, httptest.NewRequest(http.MethodGet, "/index/builds", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		repo.AssertExpectations(t)
	})
}

func TestHistory_RecordsBuilds(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Start", mock.Anything, mock.MatchedBy(func(b indexer.Build) bool { return b.ID == "b1" })).Return(nil)
	repo.On("Finish", mock.Anything, mock.MatchedBy(func(b indexer.Build) bool { return b.ID == "b1" })).Return(errors.New("db down"))

	h := index.NewHistory(repo)
	h.BuildStarted(context.Background(), indexer.Build{ID: "b1"})
	h.BuildFinished(context.Background(), indexer.Build{ID: "b1"})

	repo.AssertExpectations(t)
}
