package server

import (
	"strconv"
	"sync"

	"github.com/kataras/iris/v12"

	"flacstream/internal/library"
)

// LibraryCache 单个路径的曲库缓存数据
type LibraryCache struct {
	lib  *library.Library
	hash string // fileCount-trackCount 用于验证缓存有效性
}

// Handlers API 处理器
type Handlers struct {
	lib *library.Library
	mu  sync.RWMutex

	// 路径历史记录（最多保留 10 个）
	pathHistory []string

	// 路径 -> Library 缓存 Map
	libCache map[string]*LibraryCache
}

const maxPathHistory = 10

// NewHandlers 创建处理器
func NewHandlers(lib *library.Library) *Handlers {
	return &Handlers{
		lib:         lib,
		pathHistory: []string{},
		libCache:    make(map[string]*LibraryCache),
	}
}

// Library 当前曲库 (websocket 会话用)
func (h *Handlers) Library() *library.Library {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lib
}

// computeLibHash 计算曲库缓存的 hash 值
func computeLibHash(lib *library.Library) string {
	cfg := lib.GetConfig()
	return strconv.Itoa(cfg.FileCount) + "-" + strconv.Itoa(cfg.TrackCount)
}

// addToPathHistory 添加路径到历史记录
func (h *Handlers) addToPathHistory(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 移除重复项
	var newHistory []string
	for _, p := range h.pathHistory {
		if p != path {
			newHistory = append(newHistory, p)
		}
	}

	// 添加到开头
	h.pathHistory = append([]string{path}, newHistory...)

	// 限制数量
	if len(h.pathHistory) > maxPathHistory {
		h.pathHistory = h.pathHistory[:maxPathHistory]
	}
}

// GetConfig 获取配置
// GET /api/v1/config
func (h *Handlers) GetConfig(ctx iris.Context) {
	cfg := h.lib.GetConfig()

	h.mu.RLock()
	pathHistory := make([]string, len(h.pathHistory))
	copy(pathHistory, h.pathHistory)
	h.mu.RUnlock()

	result := iris.Map{
		"libraryPath": cfg.LibraryPath,
		"loaded":      cfg.Loaded,
		"pathHistory": pathHistory,
	}

	if cfg.Loaded {
		result["fileCount"] = cfg.FileCount
		result["trackCount"] = cfg.TrackCount
		result["cacheStatus"] = h.lib.GetCacheStatus()
	}

	ctx.JSON(result)
}

// SetConfig 设置配置
// POST /api/v1/config
func (h *Handlers) SetConfig(ctx iris.Context) {
	var req struct {
		LibraryPath string `json:"libraryPath"`
	}

	if err := ctx.ReadJSON(&req); err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "无效的 JSON"})
		return
	}

	result := iris.Map{}

	if req.LibraryPath != "" {
		h.mu.Lock()

		// 保存当前曲库到缓存（如果已加载）
		if h.lib.IsLoaded() {
			currentPath := h.lib.BasePath()
			if currentPath != "" && currentPath != req.LibraryPath {
				h.libCache[currentPath] = &LibraryCache{
					lib:  h.lib,
					hash: computeLibHash(h.lib),
				}
			}
		}

		// 检查缓存中是否有目标路径的数据
		var newLib *library.Library
		var fromCache bool

		if cached, ok := h.libCache[req.LibraryPath]; ok {
			// 创建临时曲库来获取当前文件系统的 hash
			tempLib := library.NewLibrary(req.LibraryPath)
			if err := tempLib.Load(); err == nil {
				currentHash := computeLibHash(tempLib)
				if currentHash == cached.hash {
					// Hash 一致，使用缓存
					newLib = cached.lib
					fromCache = true
					delete(h.libCache, req.LibraryPath)
				} else {
					// Hash 不一致，需要重新加载
					newLib = tempLib
				}
			} else {
				h.mu.Unlock()
				ctx.StatusCode(400)
				ctx.JSON(iris.Map{
					"libraryPath": req.LibraryPath,
					"loaded":      false,
					"error":       "无法加载指定路径的曲库",
				})
				return
			}
		} else {
			// 缓存中没有，需要新加载
			newLib = library.NewLibrary(req.LibraryPath)
			if err := newLib.Load(); err != nil {
				h.mu.Unlock()
				ctx.StatusCode(400)
				ctx.JSON(iris.Map{
					"libraryPath": req.LibraryPath,
					"loaded":      false,
					"error":       "无法加载指定路径的曲库",
				})
				return
			}
		}

		// 替换当前实例（不关闭旧的，因为已经缓存了）
		h.lib = newLib
		h.mu.Unlock()

		// 添加到路径历史
		h.addToPathHistory(req.LibraryPath)

		// 如果不是从缓存恢复，需要构建缓存
		if !fromCache {
			go h.lib.BuildCache()
		}

		h.mu.RLock()
		pathHistory := make([]string, len(h.pathHistory))
		copy(pathHistory, h.pathHistory)
		h.mu.RUnlock()

		result["libraryPath"] = req.LibraryPath
		result["loaded"] = true
		result["cacheStatus"] = h.lib.GetCacheStatus()
		result["pathHistory"] = pathHistory
		result["fromCache"] = fromCache
	} else {
		cfg := h.lib.GetConfig()
		result["libraryPath"] = cfg.LibraryPath
		result["loaded"] = cfg.Loaded
		if cfg.Loaded {
			result["fileCount"] = cfg.FileCount
			result["trackCount"] = cfg.TrackCount
		}
	}

	ctx.JSON(result)
}

// GetCacheStatus 获取缓存构建状态
// GET /api/v1/cache/status
func (h *Handlers) GetCacheStatus(ctx iris.Context) {
	ctx.JSON(h.lib.GetCacheStatus())
}

// GetTracks 获取曲目列表
// GET /api/v1/tracks
func (h *Handlers) GetTracks(ctx iris.Context) {
	tracks := h.lib.Tracks()
	ctx.JSON(iris.Map{"tracks": tracks})
}

// GetTrack 获取单曲目信息
// GET /api/v1/tracks/{id}
func (h *Handlers) GetTrack(ctx iris.Context) {
	id, err := ctx.Params().GetInt("id")
	if err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "无效的曲目 ID"})
		return
	}

	info, ok := h.lib.TrackInfo(id)
	if !ok {
		ctx.StatusCode(404)
		ctx.JSON(iris.Map{"error": "曲目不存在"})
		return
	}
	ctx.JSON(info)
}

// GetSeek 解析目标时间对应的字节位置
// GET /api/v1/seek?track=&time_us=
func (h *Handlers) GetSeek(ctx iris.Context) {
	trackID, err := strconv.Atoi(ctx.URLParam("track"))
	if err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "缺少 track 参数"})
		return
	}
	targetUs, err := strconv.ParseInt(ctx.URLParam("time_us"), 10, 64)
	if err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "缺少 time_us 参数"})
		return
	}

	track, ok := h.lib.Track(trackID)
	if !ok {
		ctx.StatusCode(404)
		ctx.JSON(iris.Map{"error": "曲目不存在"})
		return
	}

	point, err := track.SeekTo(targetUs)
	if err != nil {
		ctx.StatusCode(500)
		ctx.JSON(iris.Map{"error": "读取失败: " + err.Error()})
		return
	}

	ctx.JSON(iris.Map{
		"timeUs":         point.TimeUs,
		"offset":         point.Offset,
		"absoluteOffset": track.AbsoluteOffset(point),
		"mode":           track.SeekMap.Mode(),
		"seekable":       track.SeekMap.IsSeekable(),
		"durationUs":     track.SeekMap.DurationUs(),
	})
}

// ==================== 路由注册 ====================

// RegisterRoutes 注册路由
func RegisterRoutes(app *iris.Application, h *Handlers) {
	v1 := app.Party("/api/v1")
	{
		v1.Get("/config", h.GetConfig)
		v1.Post("/config", h.SetConfig)
		v1.Get("/cache/status", h.GetCacheStatus)
		v1.Get("/tracks", h.GetTracks)
		v1.Get("/tracks/{id:int}", h.GetTrack)
		v1.Get("/seek", h.GetSeek)
		v1.Get("/stream", h.HandleWebSocket) // WebSocket 音频流
	}
}
