package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"flacstream/internal/config"
	"flacstream/internal/flacmeta"
	"flacstream/internal/frame"
	"flacstream/internal/index"
	"flacstream/internal/models"
	"flacstream/internal/seek"
)

// Track 单个曲目: 元数据 + seek 入口 + 打开的文件句柄
type Track struct {
	ID   int
	Path string
	Meta flacmeta.Metadata

	SeekMap   *seek.SeekMap
	transport *fileTransport
	file      *os.File
	cached    bool // seek points 来自 mmap 缓存

	seekMu sync.Mutex // 同一传输层上的并发 seek 必须串行
}

// AbsoluteOffset 把帧数据区内偏移换算为文件内绝对位置
func (t *Track) AbsoluteOffset(p seek.SeekPoint) int64 {
	return t.Meta.FirstFrameOffset + p.Offset
}

// SeekTo 解析目标时间，返回检查点 (帧数据区内偏移)
func (t *Track) SeekTo(targetUs int64) (seek.SeekPoint, error) {
	t.seekMu.Lock()
	defer t.seekMu.Unlock()
	return t.SeekMap.SeekPointFor(targetUs)
}

// ReadFrameData 读取帧数据区内 pos 处的数据块 (推流用)
func (t *Track) ReadFrameData(pos int64, n int) ([]byte, error) {
	return t.transport.ReadAt(pos, n)
}

// FrameDataBytes 帧数据区总字节数
func (t *Track) FrameDataBytes() int64 {
	return t.Meta.FrameDataBytes()
}

// Library 曲库服务器核心
type Library struct {
	basePath string
	loaded   bool

	mu         sync.RWMutex
	paths      []string
	tracks     []*Track
	seekCaches map[int]*index.SeekCache // mmap 缓存，Close 时统一释放

	// 缓存构建状态
	cacheBuilding bool
	cacheProgress int
	cacheTotal    int
	cacheCurrent  int
}

// NewLibrary 创建曲库服务器
func NewLibrary(basePath string) *Library {
	return &Library{
		basePath:   basePath,
		seekCaches: make(map[int]*index.SeekCache),
	}
}

// Load 扫描曲库目录
func (l *Library) Load() error {
	info, err := os.Stat(l.basePath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("曲库目录不存在: %s", l.basePath)
	}

	// 确保缓存目录存在
	index.SetCacheDir(index.GetCacheDir())
	fmt.Printf("[Library] 缓存目录: %s\n", index.GetCacheDir())

	var paths []string
	err = filepath.WalkDir(l.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if config.IsValidExtension(strings.ToLower(filepath.Ext(path))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("目录扫描失败: %w", err)
	}
	sort.Strings(paths)

	l.mu.Lock()
	l.paths = paths
	l.loaded = true
	l.mu.Unlock()

	fmt.Printf("[Library] ✓ 发现 %d 个 FLAC 文件\n", len(paths))
	return nil
}

// BuildCache 解析全部曲目元数据并构建 SeekMap
func (l *Library) BuildCache() error {
	if !l.loaded {
		if err := l.Load(); err != nil {
			return err
		}
	}

	l.mu.RLock()
	paths := l.paths
	l.mu.RUnlock()

	total := len(paths)
	l.mu.Lock()
	l.cacheBuilding = true
	l.cacheTotal = total
	l.cacheCurrent = 0
	l.cacheProgress = 0
	l.mu.Unlock()

	fmt.Printf("[Library] 开始构建，共 %d 个文件...\n", total)
	startTime := time.Now()

	var tracks []*Track
	opened := 0

	for i, path := range paths {
		track, err := l.openTrack(len(tracks), path)
		if err != nil {
			LogWarn("曲目打开失败", "path", path, "err", err)
			l.updateProgress(i + 1)
			continue
		}
		tracks = append(tracks, track)
		opened++
		l.updateProgress(i + 1)

		// 进度显示
		if (i+1)%10 == 0 || i+1 == total {
			elapsed := time.Since(startTime)
			fmt.Printf("[Library] 进度: %d/%d (%.1fs)\n", i+1, total, elapsed.Seconds())
		}
	}

	l.mu.Lock()
	l.tracks = tracks
	l.cacheBuilding = false
	l.cacheProgress = 100
	l.mu.Unlock()

	elapsed := time.Since(startTime)
	fmt.Printf("[Library] ✓ 构建完成: %d 个曲目，耗时 %.1fs\n", opened, elapsed.Seconds())
	return nil
}

func (l *Library) updateProgress(current int) {
	l.mu.Lock()
	l.cacheCurrent = current
	if l.cacheTotal > 0 {
		l.cacheProgress = current * 100 / l.cacheTotal
	}
	l.mu.Unlock()
}

// openTrack 解析元数据并组装 Track (seek points 优先走 mmap 缓存)
func (l *Library) openTrack(id int, path string) (*Track, error) {
	parser := flacmeta.NewParser(path)
	if err := parser.Parse(); err != nil {
		return nil, err
	}
	meta := parser.Meta

	points, cached := l.loadSeekPoints(id, path, meta.SeekPoints)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	sp := frame.StreamParams{
		SampleRate:   meta.Info.SampleRate,
		MinBlockSize: meta.Info.MinBlockSize,
		MaxBlockSize: meta.Info.MaxBlockSize,
	}
	cm := seek.ContainerMeta{
		TotalDurationUs: meta.DurationUs(),
		TotalFrameBytes: meta.FrameDataBytes(),
		SampleRate:      meta.Info.SampleRate,
		MinFrameSize:    meta.Info.MinFrameSize,
		MaxFrameSize:    meta.Info.MaxFrameSize,
	}

	table := make([]seek.SeekPoint, len(points))
	for i, p := range points {
		table[i] = seek.SeekPoint{TimeUs: p.TimeUs, Offset: p.Offset}
	}

	transport := newFileTransport(f, meta.FirstFrameOffset)
	sm := seek.NewSeekMap(cm, sp, table, transport, seek.DefaultConfig(cm))

	return &Track{
		ID:        id,
		Path:      path,
		Meta:      meta,
		SeekMap:   sm,
		transport: transport,
		file:      f,
		cached:    cached,
	}, nil
}

// loadSeekPoints 加载 seek points (优先使用 mmap 缓存)
func (l *Library) loadSeekPoints(id int, path string, parsed []models.SeekPointRecord) ([]models.SeekPointRecord, bool) {
	if index.CacheExists(path) {
		cache, err := index.LoadCache(path)
		if err == nil {
			l.mu.Lock()
			l.seekCaches[id] = cache
			l.mu.Unlock()
			fmt.Printf("[SeekCache] 加载: %s (%d 条)\n", filepath.Base(path), cache.Count)
			return cache.Records, true
		}
	}

	// 缓存未命中: 保存刚解析的 seek table
	if len(parsed) > 0 {
		if err := index.SaveCache(path, parsed); err != nil {
			fmt.Printf("[SeekCache] 保存失败: %v\n", err)
		}
	}
	return parsed, false
}

// ==================== 查询方法 ====================

// IsLoaded 是否已加载
func (l *Library) IsLoaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// BasePath 曲库路径
func (l *Library) BasePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.basePath
}

// Track 按 ID 获取曲目
func (l *Library) Track(id int) (*Track, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id < 0 || id >= len(l.tracks) {
		return nil, false
	}
	return l.tracks[id], true
}

// Tracks 获取曲目信息列表
func (l *Library) Tracks() []models.TrackInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	infos := make([]models.TrackInfo, 0, len(l.tracks))
	for _, t := range l.tracks {
		infos = append(infos, l.trackInfo(t))
	}
	return infos
}

// TrackInfo 单曲目信息
func (l *Library) TrackInfo(id int) (models.TrackInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id < 0 || id >= len(l.tracks) {
		return models.TrackInfo{}, false
	}
	return l.trackInfo(l.tracks[id]), true
}

func (l *Library) trackInfo(t *Track) models.TrackInfo {
	rel, err := filepath.Rel(l.basePath, t.Path)
	if err != nil {
		rel = t.Path
	}
	return models.TrackInfo{
		ID:          t.ID,
		Path:        rel,
		Title:       t.Meta.Tags["TITLE"],
		Artist:      t.Meta.Tags["ARTIST"],
		DurationUs:  t.Meta.DurationUs(),
		SampleRate:  t.Meta.Info.SampleRate,
		Channels:    t.Meta.Info.Channels,
		BitDepth:    t.Meta.Info.BitsPerSample,
		SizeBytes:   t.Meta.FileSize,
		Seekable:    t.SeekMap.IsSeekable(),
		SeekTable:   t.SeekMap.Mode() == "seektable",
		SeekPoints:  len(t.Meta.SeekPoints),
		CachedIndex: t.cached,
	}
}

// GetCacheStatus 获取缓存构建状态
func (l *Library) GetCacheStatus() CacheStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.loaded {
		return CacheStatus{
			Status:   "not_loaded",
			Progress: 0,
			Total:    0,
			Current:  0,
			Cached:   0,
		}
	}

	if l.cacheBuilding {
		return CacheStatus{
			Status:   "building",
			Progress: l.cacheProgress,
			Total:    l.cacheTotal,
			Current:  l.cacheCurrent,
			Cached:   len(l.tracks),
		}
	}

	return CacheStatus{
		Status:   "ready",
		Progress: 100,
		Total:    len(l.paths),
		Current:  len(l.paths),
		Cached:   len(l.tracks),
	}
}

// GetConfig 获取配置
func (l *Library) GetConfig() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cfg := Config{
		LibraryPath: l.basePath,
		Loaded:      l.loaded,
	}
	if l.loaded {
		cfg.FileCount = len(l.paths)
		cfg.TrackCount = len(l.tracks)
	}
	return cfg
}

// Close 关闭曲库，释放文件句柄与 mmap 资源
func (l *Library) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range l.tracks {
		t.file.Close()
	}
	for _, cache := range l.seekCaches {
		cache.Close()
	}
	l.tracks = nil
	l.seekCaches = make(map[int]*index.SeekCache)
}

// ==================== 数据类型 ====================

// CacheStatus 缓存状态
type CacheStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
	Current  int    `json:"current"`
	Cached   int    `json:"cached"`
}

// Config 配置
type Config struct {
	LibraryPath string `json:"libraryPath"`
	Loaded      bool   `json:"loaded"`
	FileCount   int    `json:"fileCount,omitempty"`
	TrackCount  int    `json:"trackCount,omitempty"`
}
