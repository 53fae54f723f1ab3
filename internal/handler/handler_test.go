package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/middleware"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	"github.com/noah-isme/univ-scheduler-api/pkg/realtime"
)

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type authStub struct {
	resp *models.LoginResponse
	err  error
	got  models.LoginRequest
}

func (s *authStub) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	s.got = req
	return s.resp, s.err
}

func TestAuthHandlerLogin(t *testing.T) {
	stub := &authStub{resp: &models.LoginResponse{AccessToken: "tok", ExpiresIn: 3600}}
	h := NewAuthHandler(stub)

	c, w := newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"a@uni.edu","password":"pw"}`))
	h.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@uni.edu", stub.got.Email)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	stub.err = appErrors.ErrInvalidCredentials
	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"a@uni.edu","password":"bad"}`))
	h.Login(c)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Status, w.Code)

	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`{`))
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decode(t, w).Error.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	h := NewAuthHandler(&authStub{})

	c, w := newGinContext(http.MethodGet, "/auth/me", nil)
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Email: "d@uni.edu", Role: models.RoleDispatcher})
	h.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.UserInfo
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &info))
	assert.Equal(t, models.RoleDispatcher, info.Role)
}

type runServiceStub struct {
	accepted  *dto.SchedulingRunAccepted
	run       *dto.SchedulingRunResponse
	failures  []dto.RunFailureResponse
	err       error
	createReq dto.CreateSchedulingRunRequest
	actor     string
}

func (s *runServiceStub) Create(ctx context.Context, req dto.CreateSchedulingRunRequest, actorID string) (*dto.SchedulingRunAccepted, error) {
	s.createReq, s.actor = req, actorID
	return s.accepted, s.err
}

func (s *runServiceStub) Get(ctx context.Context, id string) (*dto.SchedulingRunResponse, error) {
	return s.run, s.err
}

func (s *runServiceStub) Cancel(ctx context.Context, id, actorID string) (*dto.SchedulingRunResponse, error) {
	s.actor = actorID
	return s.run, s.err
}

func (s *runServiceStub) ListFailures(ctx context.Context, id string) ([]dto.RunFailureResponse, error) {
	return s.failures, s.err
}

func TestSchedulingRunHandlerCreateAccepted(t *testing.T) {
	stub := &runServiceStub{accepted: &dto.SchedulingRunAccepted{ID: "run-1", Status: models.RunStatusQueued, Seed: 7}}
	h := NewSchedulingRunHandler(stub, nil, nil, "/api/v1/", nil)

	body := []byte(`{"targetType":"group","targetId":"g1","from":"2024-09-02","to":"2024-09-06","iterations":5}`)
	c, w := newGinContext(http.MethodPost, "/api/v1/scheduling-runs", body)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "disp-1", Role: models.RoleDispatcher})
	h.Create(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/api/v1/scheduling-runs/run-1", w.Header().Get("Location"))
	assert.Equal(t, "disp-1", stub.actor)
	assert.Equal(t, "g1", stub.createReq.TargetID)
	require.NotNil(t, stub.createReq.Iterations)
	assert.Equal(t, 5, *stub.createReq.Iterations)
}

func TestSchedulingRunHandlerErrors(t *testing.T) {
	stub := &runServiceStub{err: appErrors.Clone(appErrors.ErrNotFound, "scheduling run not found")}
	h := NewSchedulingRunHandler(stub, nil, nil, "", nil)

	c, w := newGinContext(http.MethodGet, "/scheduling-runs/x", nil)
	c.Params = gin.Params{{Key: "id", Value: "x"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	stub.err = appErrors.ErrRunFinished
	c, w = newGinContext(http.MethodPost, "/scheduling-runs/x/cancel", nil)
	c.Params = gin.Params{{Key: "id", Value: "x"}}
	h.Cancel(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrRunFinished.Code, decode(t, w).Error.Code)
}

func TestSchedulingRunHandlerFailures(t *testing.T) {
	stub := &runServiceStub{failures: []dto.RunFailureResponse{{RequirementID: "req-1", ReasonCode: "NoFreeSlot", Missing: 2}}}
	h := NewSchedulingRunHandler(stub, nil, nil, "", nil)

	c, w := newGinContext(http.MethodGet, "/scheduling-runs/r/failures", nil)
	c.Params = gin.Params{{Key: "id", Value: "r"}}
	h.Failures(c)

	require.Equal(t, http.StatusOK, w.Code)
	var failures []dto.RunFailureResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &failures))
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Missing)
}

func dialProgress(t *testing.T, h *SchedulingRunHandler) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/scheduling-runs/:id/progress/ws", h.Progress)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/scheduling-runs/run-1/progress/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) realtime.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSchedulingRunProgressStreamsSnapshotThenUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := realtime.NewHub(nil)
	go hub.Run(ctx)

	stub := &runServiceStub{run: &dto.SchedulingRunResponse{ID: "run-1", Status: models.RunStatusRunning, Phase: "SCHEDULING"}}
	conn := dialProgress(t, NewSchedulingRunHandler(stub, hub, nil, "", nil))

	snapshot := readMessage(t, conn)
	assert.Equal(t, service.MessageSnapshot, snapshot.Type)
	assert.Equal(t, service.RunTopic("run-1"), snapshot.Topic)

	topic := service.RunTopic("run-1")
	require.Eventually(t, func() bool { return hub.Subscribers(topic) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(topic, service.MessageProgress, dto.RunProgressView{Current: 3, Total: 10}))

	progress := readMessage(t, conn)
	assert.Equal(t, service.MessageProgress, progress.Type)
}

func TestSchedulingRunProgressFinishedRunClosesAfterFinalMessage(t *testing.T) {
	stub := &runServiceStub{run: &dto.SchedulingRunResponse{ID: "run-1", Status: models.RunStatusCompleted}}
	conn := dialProgress(t, NewSchedulingRunHandler(stub, nil, nil, "", nil))

	msg := readMessage(t, conn)
	assert.Equal(t, service.MessageFinished, msg.Type)

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestSchedulingRunProgressRejectsForeignOrigin(t *testing.T) {
	stub := &runServiceStub{run: &dto.SchedulingRunResponse{ID: "run-1", Status: models.RunStatusRunning}}
	h := NewSchedulingRunHandler(stub, nil, []string{"https://timetable.uni.edu"}, "", nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/scheduling-runs/:id/progress/ws", h.Progress)
	srv := httptest.NewServer(r)
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/scheduling-runs/run-1/progress/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

type entryServiceStub struct {
	resp *dto.ScheduleEntryListResponse
	hit  bool
	err  error
	got  dto.ScheduleEntryQuery
}

func (s *entryServiceStub) List(ctx context.Context, query dto.ScheduleEntryQuery) (*dto.ScheduleEntryListResponse, bool, error) {
	s.got = query
	return s.resp, s.hit, s.err
}

func TestScheduleEntryHandlerList(t *testing.T) {
	stub := &entryServiceStub{
		resp: &dto.ScheduleEntryListResponse{
			Items:      []dto.ScheduleEntryResponse{{ID: "e1", Date: "2024-09-02", Slot: 1}},
			Page:       1,
			PageSize:   100,
			TotalCount: 1,
		},
		hit: true,
	}
	h := NewScheduleEntryHandler(stub)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	r.GET("/schedule-entries", h.List)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schedule-entries?from=2024-09-02&to=2024-09-06&targetType=teacher&targetId=t1&pageSize=100", nil))

	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Equal(t, "t1", stub.got.TargetID)
	assert.Equal(t, 100, stub.got.PageSize)
}

type exportServiceStub struct {
	created  *dto.ScheduleExportResponse
	download *service.ExportDownload
	err      error
}

func (s *exportServiceStub) Create(ctx context.Context, req dto.ScheduleExportRequest) (*dto.ScheduleExportResponse, error) {
	return s.created, s.err
}

func (s *exportServiceStub) ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error) {
	return s.download, s.err
}

func TestExportHandlerCreate(t *testing.T) {
	stub := &exportServiceStub{created: &dto.ScheduleExportResponse{ID: "x1", Format: "csv", Rows: 3, URL: "/api/v1/export/tok"}}
	h := NewExportHandler(stub)

	c, w := newGinContext(http.MethodPost, "/schedule-exports", []byte(`{"from":"2024-09-02","to":"2024-09-06","format":"csv"}`))
	h.Create(c)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestExportHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timetable.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,slot\n2024-09-02,1\n"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	stub := &exportServiceStub{download: &service.ExportDownload{File: file, Filename: "timetable.csv", ContentType: "text/csv"}}
	h := NewExportHandler(stub)

	c, w := newGinContext(http.MethodGet, "/export/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="timetable.csv"`)
	assert.Equal(t, "date,slot\n2024-09-02,1\n", w.Body.String())
}

func TestExportHandlerDownloadForbidden(t *testing.T) {
	h := NewExportHandler(&exportServiceStub{err: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")})

	c, w := newGinContext(http.MethodGet, "/export/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}
	h.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
		"skipped":  nil,
	})

	c, w := newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
	assert.NotContains(t, body.Checks, "skipped")

	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
