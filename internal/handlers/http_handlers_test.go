package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luckydraw/internal/draw"
	"luckydraw/internal/reel"
	"luckydraw/internal/services"
	"luckydraw/web"
)

func TestMain(m *testing.M) {
	logger.Init("test", false, false, io.Discard)
	os.Exit(m.Run())
}

const partyTSV = "入职时间\t工号\t姓名\n" +
	"2021-01-01\tE1\tAlice\n" +
	"2023-06-01\tE2\tBob\n" +
	"2019-05-05\tE3\tCarol\n" +
	"2019-05-05\tE3\tCarol\n" +
	"2019-13-01\tE4\tDan\n"

func newTestRouter(t *testing.T) (*gin.Engine, *services.LotteryService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := services.DefaultOptions()
	opts.Source = draw.NewSeededSource(5)
	opts.Clock = func() time.Time { return now }
	service := services.NewLotteryService(opts)

	templates, err := web.ParseTemplates()
	require.NoError(t, err)

	r := reel.New(reel.Config{InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Decay: 0.5}, opts.Source)
	h := NewHTTPHandler(service, templates, r, true)

	router := gin.New()
	h.RegisterPublicRoutes(router)
	group := router.Group("/")
	group.Use(h.TenantMiddleware())
	h.RegisterTenantRoutes(group)
	return router, service
}

type client struct {
	t      *testing.T
	router *gin.Engine
	cookie *http.Cookie
}

func (c *client) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.Name == tenantCookie {
			c.cookie = ck
		}
	}
	return rec
}

func (c *client) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	return c.do(http.MethodPost, path, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
}

func (c *client) upload(tsv string) *httptest.ResponseRecorder {
	c.t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("rosterTSV", "roster.tsv")
	require.NoError(c.t, err)
	_, err = part.Write([]byte(tsv))
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())
	return c.do(http.MethodPost, "/roster", body, mw.FormDataContentType())
}

func newClient(t *testing.T) (*client, *services.LotteryService) {
	router, service := newTestRouter(t)
	c := &client{t: t, router: router}
	rec := c.do(http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, c.cookie, "tenant cookie should be issued on first visit")
	return c, service
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestShowLotteryPage(t *testing.T) {
	c, _ := newClient(t)
	rec := c.do(http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "年会抽奖")
	assert.Contains(t, body, "一等奖")
	assert.Contains(t, body, "总参与人数: 0")
	assert.Contains(t, body, "入职满 2 年")
}

func TestTenantMiddleware_ReplacesInvalidCookie(t *testing.T) {
	router, _ := newTestRouter(t)
	c := &client{t: t, router: router, cookie: &http.Cookie{Name: tenantCookie, Value: "not-a-uuid"}}
	c.do(http.MethodGet, "/", nil, "")
	assert.NotEqual(t, "not-a-uuid", c.cookie.Value)
	assert.True(t, validTenantID(c.cookie.Value))
}

func TestUploadRosterTSV(t *testing.T) {
	c, service := newClient(t)
	rec := c.upload(partyTSV)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "总参与人数: 3")
	assert.Contains(t, body, "已跳过 2 行")
	assert.Equal(t, 3, service.Snapshot(c.cookie.Value).RosterSize)
}

func TestUploadRosterTSV_MissingFile(t *testing.T) {
	c, _ := newClient(t)
	rec := c.postForm("/roster", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSelection(t *testing.T) {
	c, service := newClient(t)

	rec := c.postForm("/selection", url.Values{"tier": {"2"}, "count": {"3"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "二等奖")

	snap := service.Snapshot(c.cookie.Value)
	assert.Equal(t, 3, snap.SelectedCount)

	rec = c.postForm("/selection", url.Values{"tier": {"9"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.postForm("/selection", url.Values{"tier": {"1"}, "count": {"7"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "抽取人数无效")
}

func TestStartDraw_InsufficientPool(t *testing.T) {
	c, service := newClient(t)
	c.upload(partyTSV)
	c.postForm("/selection", url.Values{"tier": {"1"}, "count": {"3"}})

	rec := c.do(http.MethodPost, "/draw/start", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "符合条件的参与者不足")
	assert.Nil(t, service.CurrentRound(c.cookie.Value))
}

func TestStartStopDraw(t *testing.T) {
	c, service := newClient(t)
	c.upload(partyTSV)
	c.postForm("/selection", url.Values{"tier": {"1"}, "count": {"2"}})

	rec := c.do(http.MethodPost, "/draw/start", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	round := service.CurrentRound(c.cookie.Value)
	require.NotNil(t, round)
	assert.Contains(t, rec.Body.String(), `data-round="`+round.ID+`"`)

	rec = c.do(http.MethodPost, "/draw/start", nil, "")
	assert.Contains(t, rec.Body.String(), "正在抽奖中")

	rec = c.do(http.MethodPost, "/draw/stop", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, winnersChanged, rec.Header().Get("HX-Trigger"))
	body := rec.Body.String()
	assert.Contains(t, body, "Alice")
	assert.Contains(t, body, "Carol")
	assert.NotContains(t, body, "Bob")

	rec = c.do(http.MethodPost, "/draw/stop", nil, "")
	assert.Contains(t, rec.Body.String(), "当前没有进行中的抽奖")

	rec = c.do(http.MethodGet, "/winners", nil, "")
	assert.Contains(t, rec.Body.String(), "一等奖（2人）")
}

func TestPerformDraw(t *testing.T) {
	c, service := newClient(t)
	c.upload(partyTSV)

	rec := c.postForm("/draw", url.Values{"tier": {"5"}, "count": {"2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, service.Winners(c.cookie.Value), 2)

	rec = c.postForm("/draw", url.Values{"tier": {"5"}, "count": {"2"}})
	assert.Contains(t, rec.Body.String(), "符合条件的参与者不足")
	assert.Len(t, service.Winners(c.cookie.Value), 2)
}

func TestExportResultsCSV(t *testing.T) {
	c, _ := newClient(t)
	c.upload(partyTSV)
	c.postForm("/draw", url.Values{"tier": {"5"}, "count": {"3"}})

	rec := c.do(http.MethodGet, "/export-results-csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "\xef\xbb\xbf"))
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(body, "\xef\xbb\xbf")), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "奖项,工号,姓名,入职时间,中奖时间", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "五等奖,E"))
	assert.True(t, strings.HasSuffix(lines[1], "2025-01-01 00:00:00"))
}

func TestResetSession(t *testing.T) {
	c, service := newClient(t)
	c.upload(partyTSV)

	rec := c.do(http.MethodPost, "/reset", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("HX-Redirect"))
	assert.Zero(t, service.Snapshot(c.cookie.Value).RosterSize)
}

func TestStreamDraw_NoRound(t *testing.T) {
	c, _ := newClient(t)
	rec := c.do(http.MethodGet, "/draw/stream", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStreamDraw(t *testing.T) {
	router, service := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	c := &client{t: t, router: router}
	c.do(http.MethodGet, "/", nil, "")
	c.upload(partyTSV)
	c.postForm("/selection", url.Values{"tier": {"5"}, "count": {"2"}})
	c.do(http.MethodPost, "/draw/start", nil, "")
	require.NotNil(t, service.CurrentRound(c.cookie.Value))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/draw/stream"
	cookie := &http.Cookie{Name: tenantCookie, Value: c.cookie.Value}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Cookie": {cookie.String()}})
	require.NoError(t, err)
	defer conn.Close()

	var first reel.Frame
	require.NoError(t, conn.ReadJSON(&first))
	assert.False(t, first.Final)
	assert.Len(t, first.Names, 2)

	winners, err := service.Stop(c.cookie.Value)
	require.NoError(t, err)

	var last reel.Frame
	for !last.Final {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&last))
	}
	assert.Equal(t, []string{winners[0].Name, winners[1].Name}, last.Names)
}
