package seek

import (
	"flacstream/internal/frame"
)

// searchState 二分查找的活动区间
// 不变量: floor.TimeUs <= targetUs；ceiling.TimeUs > targetUs 或 ceiling 为流尾
// 显式状态 + 普通循环，每一步可独立测试，不使用递归
type searchState struct {
	floor    SeekPoint
	ceiling  SeekPoint
	targetUs int64
}

// estimateOffset 按平均码率估算目标时间的字节位置
// 仅用于播种与区间内插值，估算结果必须经帧校验后才能作为答案
func estimateOffset(targetUs, durationUs, totalBytes int64) int64 {
	if durationUs <= 0 || totalBytes <= 0 {
		return 0
	}
	return int64(float64(targetUs) / float64(durationUs) * float64(totalBytes))
}

// nextProbe 计算下一个探测位置
// 把目标时间在当前区间上线性插值映射到字节区间 (码率近似恒定时比
// 朴素中点收敛更快)，时间区间退化时回退中点；结果严格夹在区间内部
func (st *searchState) nextProbe() int64 {
	span := st.ceiling.Offset - st.floor.Offset
	var probe int64
	if st.ceiling.TimeUs > st.floor.TimeUs {
		probe = st.floor.Offset + estimateOffset(
			st.targetUs-st.floor.TimeUs, st.ceiling.TimeUs-st.floor.TimeUs, span)
	} else {
		probe = st.floor.Offset + span/2
	}

	if probe <= st.floor.Offset {
		probe = st.floor.Offset + 1
	}
	if probe >= st.ceiling.Offset {
		probe = st.ceiling.Offset - 1
	}
	return probe
}

// bisect 无索引时的二分定帧
// 每轮: 探测读 -> 前向扫描第一个合法帧头 -> 按帧时间收缩区间
// 达到阈值或迭代上限后返回已知最优 floor (TimeUs <= targetUs)
func bisect(t Transport, sp frame.StreamParams, meta ContainerMeta, cfg Config, targetUs int64) (SeekPoint, error) {
	st := searchState{
		floor:    StartPoint,
		ceiling:  SeekPoint{TimeUs: meta.TotalDurationUs, Offset: meta.TotalFrameBytes},
		targetUs: targetUs,
	}

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if st.ceiling.Offset-st.floor.Offset <= cfg.ToleranceBytes {
			break
		}

		probe := st.nextProbe()

		// 探测点贴近 ceiling 时后撤，保证扫描窗口能覆盖到帧头；
		// 后撤不得越过 floor (扫出的帧始终晚于当前 floor，搜索必然前进)
		if st.ceiling.Offset-probe < int64(cfg.ScanWindow) {
			probe = st.ceiling.Offset - int64(cfg.ScanWindow)
			if probe <= st.floor.Offset {
				probe = st.floor.Offset + 1
			}
		}

		// 扫描不越过 ceiling，否则可能把区间外的帧纳入括号
		n := cfg.ScanWindow
		if remain := st.ceiling.Offset - probe; int64(n) > remain {
			n = int(remain)
		}
		if n < frame.MinHeaderSize {
			break
		}

		data, err := t.ReadAt(probe, n)
		if err != nil {
			// 传输层失败直接上抛，重试策略属于传输层
			return SeekPoint{}, err
		}

		rel, fi, ok := frame.FindFrameStart(data, sp)
		if !ok {
			// 探测落在载荷区: 只收缩字节上界，不更新时间，向 floor 方向折半逃离
			st.ceiling.Offset = probe
			continue
		}

		found := SeekPoint{TimeUs: fi.TimeUs, Offset: probe + int64(rel)}
		switch {
		case found.TimeUs == targetUs:
			return found, nil
		case found.TimeUs < targetUs:
			st.floor = found
		default:
			st.ceiling = found
		}
	}

	// 迭代耗尽也不报错: 降级为最近的已知早于目标的点
	return refineWithinBracket(t, sp, cfg, st), nil
}

// refineWithinBracket 收敛后在残余区间内逐帧推进
// 从 floor 起依次扫描帧头，停在最后一个 TimeUs <= targetUs 的帧，
// 把结果从 "一个阈值以内" 收紧到帧精度；任何读取失败都退回已知 floor
func refineWithinBracket(t Transport, sp frame.StreamParams, cfg Config, st searchState) SeekPoint {
	n := int(st.ceiling.Offset-st.floor.Offset) + frame.MaxHeaderSize
	if n > cfg.ScanWindow {
		n = cfg.ScanWindow
	}
	if n < frame.MinHeaderSize {
		return st.floor
	}

	data, err := t.ReadAt(st.floor.Offset, n)
	if err != nil {
		return st.floor
	}

	best := st.floor
	off := 0
	for off < len(data) {
		rel, fi, ok := frame.FindFrameStart(data[off:], sp)
		if !ok {
			break
		}
		if fi.TimeUs > st.targetUs {
			break
		}
		abs := st.floor.Offset + int64(off+rel)
		if fi.TimeUs >= best.TimeUs {
			best = SeekPoint{TimeUs: fi.TimeUs, Offset: abs}
		}
		off += rel + fi.HeaderLen
	}
	return best
}
