package seek

import "sort"

// floorLookup seek table 的 floor 查找
// 返回 TimeUs <= targetUs 的最大条目；目标早于全部条目时返回首条目
func floorLookup(table []SeekPoint, targetUs int64) SeekPoint {
	idx := sort.Search(len(table), func(i int) bool {
		return table[i].TimeUs > targetUs
	})
	if idx == 0 {
		return table[0]
	}
	return table[idx-1]
}

// validateTable 校验 seek table 单调性
// 时间与偏移都必须严格递增；半可信的索引整体不可用
func validateTable(table []SeekPoint) bool {
	for i := 1; i < len(table); i++ {
		if table[i].TimeUs <= table[i-1].TimeUs || table[i].Offset <= table[i-1].Offset {
			return false
		}
	}
	return true
}
