package server

import (
	"testing"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/httptest"

	"flacstream/internal/library"
)

func newTestApp(t *testing.T) (*httptest.Expect, *Handlers) {
	t.Helper()
	app := iris.New()
	h := NewHandlers(library.NewLibrary(""))
	RegisterRoutes(app, h)
	return httptest.New(t, app, httptest.LogLevel("disable")), h
}

func TestGetConfigNotLoaded(t *testing.T) {
	e, _ := newTestApp(t)

	obj := e.GET("/api/v1/config").Expect().
		Status(httptest.StatusOK).JSON().Object()
	obj.HasValue("loaded", false)
	obj.HasValue("libraryPath", "")
	obj.Value("pathHistory").Array().IsEmpty()
}

func TestGetCacheStatusNotLoaded(t *testing.T) {
	e, _ := newTestApp(t)

	e.GET("/api/v1/cache/status").Expect().
		Status(httptest.StatusOK).JSON().Object().
		HasValue("status", "not_loaded")
}

func TestGetTracksEmpty(t *testing.T) {
	e, _ := newTestApp(t)

	e.GET("/api/v1/tracks").Expect().
		Status(httptest.StatusOK).JSON().Object().
		Value("tracks").Array().IsEmpty()
}

func TestGetTrackErrors(t *testing.T) {
	e, _ := newTestApp(t)

	e.GET("/api/v1/tracks/99").Expect().Status(httptest.StatusNotFound)
}

func TestGetSeekErrors(t *testing.T) {
	e, _ := newTestApp(t)

	// 缺参数
	e.GET("/api/v1/seek").Expect().Status(httptest.StatusBadRequest)
	e.GET("/api/v1/seek").WithQuery("track", 0).Expect().
		Status(httptest.StatusBadRequest)
	// 曲目不存在
	e.GET("/api/v1/seek").
		WithQuery("track", 0).WithQuery("time_us", 1234000).
		Expect().Status(httptest.StatusNotFound)
}

func TestSetConfigInvalidJSON(t *testing.T) {
	e, _ := newTestApp(t)

	e.POST("/api/v1/config").WithText("not json").Expect().
		Status(httptest.StatusBadRequest)
}

func TestSetConfigBadPath(t *testing.T) {
	e, _ := newTestApp(t)

	e.POST("/api/v1/config").
		WithJSON(map[string]string{"libraryPath": "/nonexistent/music"}).
		Expect().Status(httptest.StatusBadRequest).JSON().Object().
		HasValue("loaded", false)
}

func TestSetConfigSwitchAndRestore(t *testing.T) {
	e, h := newTestApp(t)

	dirA := t.TempDir()
	dirB := t.TempDir()

	// 首次加载 A
	obj := e.POST("/api/v1/config").
		WithJSON(map[string]string{"libraryPath": dirA}).
		Expect().Status(httptest.StatusOK).JSON().Object()
	obj.HasValue("loaded", true)
	obj.HasValue("fromCache", false)
	obj.Value("pathHistory").Array().HasValue(0, dirA)

	// 切到 B: A 进入缓存
	e.POST("/api/v1/config").
		WithJSON(map[string]string{"libraryPath": dirB}).
		Expect().Status(httptest.StatusOK).JSON().Object().
		HasValue("fromCache", false)

	if h.Library().BasePath() != dirB {
		t.Errorf("当前曲库 = %s, want %s", h.Library().BasePath(), dirB)
	}

	// 切回 A: hash 未变，走缓存恢复
	obj = e.POST("/api/v1/config").
		WithJSON(map[string]string{"libraryPath": dirA}).
		Expect().Status(httptest.StatusOK).JSON().Object()
	obj.HasValue("fromCache", true)
	// 历史去重且最新在前
	obj.Value("pathHistory").Array().HasValue(0, dirA)
	obj.Value("pathHistory").Array().Length().IsEqual(2)
}

func TestPathHistoryBounded(t *testing.T) {
	_, h := newTestApp(t)

	for i := 0; i < maxPathHistory+5; i++ {
		h.addToPathHistory(t.TempDir())
	}
	h.mu.RLock()
	n := len(h.pathHistory)
	h.mu.RUnlock()
	if n != maxPathHistory {
		t.Errorf("历史条数 = %d, want %d", n, maxPathHistory)
	}
}
