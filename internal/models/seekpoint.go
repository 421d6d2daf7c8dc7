package models

// SeekPointRecord 缓存中的 seek point 记录 (16 bytes, 内存布局优化)
// 两个 int64 字段保证 8 字节对齐，无 padding，可直接 mmap
type SeekPointRecord struct {
	TimeUs int64 // 微秒时间戳
	Offset int64 // 帧数据区内的字节偏移
}

// TrackInfo 曲目信息 (API 返回)
type TrackInfo struct {
	ID          int    `json:"id"`
	Path        string `json:"path"`
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	DurationUs  int64  `json:"durationUs"`
	SampleRate  uint32 `json:"sampleRate"`
	Channels    uint8  `json:"channels"`
	BitDepth    uint8  `json:"bitDepth"`
	SizeBytes   int64  `json:"sizeBytes"`
	Seekable    bool   `json:"seekable"`
	SeekTable   bool   `json:"seekTable"`
	SeekPoints  int    `json:"seekPoints"`
	FrameCount  int    `json:"frameCount,omitempty"`
	CachedIndex bool   `json:"cachedIndex"`
}
