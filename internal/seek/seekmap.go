package seek

import (
	"flacstream/internal/frame"
)

// 封闭的策略集合，构建时选定一种，容器生命周期内不再切换
type strategy int

const (
	strategyNone   strategy = iota // 不可 seek
	strategyTable                  // seek table floor 查找
	strategyBisect                 // 二分定帧
)

// SeekMap 时间到字节位置的查询入口
// 除构建期写入的只读字段外不携带状态，多次查询互不影响
type SeekMap struct {
	meta      ContainerMeta
	sp        frame.StreamParams
	cfg       Config
	strategy  strategy
	table     []SeekPoint
	transport Transport
}

// NewSeekMap 按优先级选定策略:
// (a) 存在合法 seek table -> 直接查表
// (b) 总时长与帧数据字节数都已知 -> 二分查找
// (c) 其余情况 -> 不可 seek，任何查询返回流起点
func NewSeekMap(meta ContainerMeta, sp frame.StreamParams, table []SeekPoint, t Transport, cfg Config) *SeekMap {
	m := &SeekMap{meta: meta, sp: sp, cfg: cfg, transport: t}

	switch {
	case len(table) > 0 && validateTable(table):
		m.strategy = strategyTable
		m.table = table
	case meta.TotalDurationUs > 0 && meta.TotalFrameBytes > 0:
		m.strategy = strategyBisect
	default:
		m.strategy = strategyNone
	}
	return m
}

// IsSeekable 是否支持按时间定位
func (m *SeekMap) IsSeekable() bool {
	return m.strategy != strategyNone
}

// DurationUs 总时长 (微秒)，无法确定时返回 TimeUnknown
func (m *SeekMap) DurationUs() int64 {
	if m.strategy == strategyNone {
		return TimeUnknown
	}
	return m.meta.TotalDurationUs
}

// Mode 返回当前策略名 (状态接口用)
func (m *SeekMap) Mode() string {
	switch m.strategy {
	case strategyTable:
		return "seektable"
	case strategyBisect:
		return "bisect"
	}
	return "unseekable"
}

// SeekPointFor 解析目标时间对应的检查点
// 返回点保证 TimeUs <= targetUs (查表命中首条目的边界情况除外)；
// 只有传输层错误才作为硬错误上抛
func (m *SeekMap) SeekPointFor(targetUs int64) (SeekPoint, error) {
	if targetUs < 0 {
		targetUs = 0
	}

	switch m.strategy {
	case strategyTable:
		return floorLookup(m.table, targetUs), nil
	case strategyBisect:
		if targetUs == 0 {
			return StartPoint, nil
		}
		return bisect(m.transport, m.sp, m.meta, m.cfg, targetUs)
	}
	return StartPoint, nil
}
