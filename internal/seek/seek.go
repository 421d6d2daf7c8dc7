package seek

// TimeUnknown 未知时长的哨兵值
const TimeUnknown int64 = -1

// SeekPoint 时间到字节偏移的检查点
// Offset 为帧数据区内的偏移 (不含前导元数据)
type SeekPoint struct {
	TimeUs int64
	Offset int64
}

// StartPoint 流起点，不可 seek 时的兜底返回值
var StartPoint = SeekPoint{TimeUs: 0, Offset: 0}

// Transport 外部数据源
// 读取失败原样上抛，不在本层重试；游标在单次 seek 调用期间独占
type Transport interface {
	ReadAt(pos int64, n int) ([]byte, error)
}

// ContainerMeta 上游头部解析产出的容器元数据，只读
type ContainerMeta struct {
	TotalDurationUs int64 // 微秒；TimeUnknown 表示未知
	TotalFrameBytes int64 // 帧数据区总字节数；-1 表示未知
	SampleRate      uint32
	MinFrameSize    uint32 // 0 表示未知
	MaxFrameSize    uint32 // 0 表示未知
}

// Config 二分查找调优参数
type Config struct {
	MaxIterations  int   // 迭代上限
	ToleranceBytes int64 // 收敛阈值: floor 与 ceiling 的字节距离
	ScanWindow     int   // 单次探测的前向扫描窗口
}

const (
	defaultMaxIterations = 20
	defaultMaxFrameSize  = 64 * 1024
)

// DefaultConfig 按容器元数据推导默认参数
// 阈值取最大帧大小: 两点间距小于一帧时不可能再夹出新帧
func DefaultConfig(meta ContainerMeta) Config {
	tolerance := int64(meta.MaxFrameSize)
	if tolerance <= 0 {
		tolerance = defaultMaxFrameSize
	}
	scan := int(tolerance * 2)
	return Config{
		MaxIterations:  defaultMaxIterations,
		ToleranceBytes: tolerance,
		ScanWindow:     scan,
	}
}
