package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kasuboski/amnis/pkg/catalog"
	"github.com/kasuboski/amnis/pkg/manager"
	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/model"
	"github.com/kasuboski/amnis/server/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type testResponse[T any] struct {
	Error    string `json:"error"`
	Response T      `json:"response"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) testResponse[T] {
	t.Helper()
	var resp testResponse[T]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestServer_Healthz(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		s := Server{baseLogger: zap.NewNop().Sugar()}

		req, err := http.NewRequest("GET", "/healthz", nil)
		assert.NoError(t, err)

		rr := httptest.NewRecorder()

		handler := s.Healthz()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		assert.Equal(t, "application/json", rr.Header().Get("content-type"))

		var response GenericResponse
		err = json.Unmarshal(rr.Body.Bytes(), &response)

		assert.NoError(t, err)
		assert.Equal(t, "ok", response.Response)
	})
}

func TestServer_ListTransfers(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockManager(ctrl)
	s := New(zap.NewNop().Sugar(), m)

	m.EXPECT().Transfers().Return([]manager.SessionView{{Filename: "a.mkv", Status: manager.SessionActive, BytesWritten: 42}})

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/transfers", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decode[[]manager.SessionView](t, rr)
	require.Len(t, resp.Response, 1)
	assert.Equal(t, "a.mkv", resp.Response[0].Filename)
	assert.Equal(t, manager.SessionActive, resp.Response[0].Status)
	assert.Equal(t, int64(42), resp.Response[0].BytesWritten)
}

func TestServer_ListEpisodes(t *testing.T) {
	t.Run("filters by show", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := mocks.NewMockManager(ctrl)
		s := New(zap.NewNop().Sugar(), m)

		m.EXPECT().Episodes(gomock.Any(), "Foo").Return([]*model.Episode{{ID: 1, ShowName: "Foo", Episode: 5}}, nil)

		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/episodes?show=Foo", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decode[[]model.Episode](t, rr)
		require.Len(t, resp.Response, 1)
		assert.Equal(t, int32(5), resp.Response[0].Episode)
	})

	t.Run("storage failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := mocks.NewMockManager(ctrl)
		s := New(zap.NewNop().Sugar(), m)

		m.EXPECT().Episodes(gomock.Any(), "").Return(nil, errors.New("database is locked"))

		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/episodes", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		resp := decode[any](t, rr)
		assert.Equal(t, "failed to list episodes", resp.Error)
	})
}

func TestServer_Reconcile(t *testing.T) {
	t.Run("returns the plan", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := mocks.NewMockManager(ctrl)
		s := New(zap.NewNop().Sugar(), m)

		plan := manager.Plan{
			Queue: []manager.QueueEntry{{Offer: catalog.Offer{Index: 10, Filename: "[Sub] Foo - 05 [720p].mkv", Source: "bot"}}},
			Stale: []string{},
		}
		m.EXPECT().ReconcileOnce(gomock.Any()).Return(plan, nil)

		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decode[manager.Plan](t, rr)
		require.Len(t, resp.Response.Queue, 1)
		assert.Equal(t, 10, resp.Response.Queue[0].Offer.Index)
	})

	t.Run("catalog failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := mocks.NewMockManager(ctrl)
		s := New(zap.NewNop().Sugar(), m)

		m.EXPECT().ReconcileOnce(gomock.Any()).Return(manager.Plan{}, catalog.ErrTransient)

		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", nil))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Equal(t, catalog.ErrTransient.Error(), decode[any](t, rr).Error)
	})

	t.Run("get is not allowed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := New(zap.NewNop().Sugar(), mocks.NewMockManager(ctrl))

		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/reconcile", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}
