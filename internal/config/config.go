package config

const (
	// FLAC 容器常量
	StreamMarker      = "fLaC"
	StreamInfoSize    = 34         // STREAMINFO 块体字节数
	SeekPointSize     = 18         // SEEKTABLE 单条目字节数
	PlaceholderSample = ^uint64(0) // 占位 seek point 的样本号

	// 元数据块类型
	BlockStreamInfo    = 0
	BlockPadding       = 1
	BlockApplication   = 2
	BlockSeekTable     = 3
	BlockVorbisComment = 4

	// 帧同步码: 15 位 0b111111111111100
	SyncByte0     = 0xFF
	SyncByte1Mask = 0xFE
	SyncByte1     = 0xF8

	// 缓存记录大小 (与 models.SeekPointRecord 保持一致)
	CacheRecordSize = 16
)

var (
	// 默认配置
	DefaultLibraryPath = "/srv/music"
	Host               = "0.0.0.0"
	Port               = 8080
)

// ValidExtensions 返回支持的文件扩展名
func ValidExtensions() []string {
	return []string{".flac"}
}

// IsValidExtension 检查扩展名是否支持
func IsValidExtension(ext string) bool {
	return ext == ".flac"
}
