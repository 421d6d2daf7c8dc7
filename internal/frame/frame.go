package frame

import (
	"flacstream/internal/config"
)

const (
	// 帧头最小长度: 同步码(2) + 参数(2) + 编号(1) + CRC(1)
	MinHeaderSize = 6
	// 帧头最大长度: 同步码(2) + 参数(2) + 编号(7) + 块大小(2) + 采样率(2) + CRC(1)
	MaxHeaderSize = 16
)

// StreamParams 帧校验所需的流参数 (来自 STREAMINFO)
type StreamParams struct {
	SampleRate   uint32
	MinBlockSize uint16
	MaxBlockSize uint16
}

// FrameInfo 单次校验的结果，仅在一次探测内有效
type FrameInfo struct {
	StartOffset int    // 帧头在输入窗口内的偏移
	HeaderLen   int    // 帧头字节数 (含 CRC)
	BlockSize   uint32 // 本帧样本数
	SampleNum   uint64 // 首样本编号
	TimeUs      int64  // 首样本对应的微秒时间
	Valid       bool
}

// 采样率编码表 (0=取 STREAMINFO, 12-14=帧内显式编码, 15=无效)
var sampleRateTable = [16]uint32{
	0, 88200, 176400, 192000, 8000, 16000, 22050, 24000,
	32000, 44100, 48000, 96000, 0, 0, 0, 0,
}

// Validate 校验 data[offset:] 是否为合法帧头
// 纯函数: 不做任何 I/O，不移动游标；任何字段不一致或 CRC 错误都返回 Valid=false
func Validate(data []byte, offset int, sp StreamParams) FrameInfo {
	if offset < 0 || offset+MinHeaderSize > len(data) {
		return FrameInfo{}
	}
	buf := data[offset:]

	// 同步码 + 保留位
	if buf[0] != config.SyncByte0 || buf[1]&config.SyncByte1Mask != config.SyncByte1 {
		return FrameInfo{}
	}
	variableBlocking := buf[1]&0x01 != 0

	blockSizeCode := buf[2] >> 4
	sampleRateCode := buf[2] & 0x0F
	if blockSizeCode == 0 || sampleRateCode == 0x0F {
		return FrameInfo{}
	}

	channelCode := buf[3] >> 4
	sampleSizeCode := (buf[3] >> 1) & 0x07
	if channelCode > 10 || sampleSizeCode == 3 || sampleSizeCode == 7 || buf[3]&0x01 != 0 {
		return FrameInfo{}
	}

	// UTF-8 风格编码的帧号/样本号
	pos := 4
	coded, n := decodeCodedNumber(buf[pos:])
	if n == 0 {
		return FrameInfo{}
	}
	pos += n

	// 显式块大小
	blockSize := decodeBlockSize(blockSizeCode)
	switch blockSizeCode {
	case 6:
		if pos >= len(buf) {
			return FrameInfo{}
		}
		blockSize = uint32(buf[pos]) + 1
		pos++
	case 7:
		if pos+2 > len(buf) {
			return FrameInfo{}
		}
		blockSize = uint32(buf[pos])<<8 | uint32(buf[pos+1])
		blockSize++
		pos += 2
	}
	if blockSize == 0 {
		return FrameInfo{}
	}
	if sp.MaxBlockSize > 0 && blockSize > uint32(sp.MaxBlockSize) {
		return FrameInfo{}
	}

	// 显式采样率
	sampleRate := sampleRateTable[sampleRateCode]
	switch sampleRateCode {
	case 0:
		sampleRate = sp.SampleRate
	case 12:
		if pos >= len(buf) {
			return FrameInfo{}
		}
		sampleRate = uint32(buf[pos]) * 1000
		pos++
	case 13:
		if pos+2 > len(buf) {
			return FrameInfo{}
		}
		sampleRate = uint32(buf[pos])<<8 | uint32(buf[pos+1])
		pos += 2
	case 14:
		if pos+2 > len(buf) {
			return FrameInfo{}
		}
		sampleRate = (uint32(buf[pos])<<8 | uint32(buf[pos+1])) * 10
		pos += 2
	}
	if sampleRate == 0 {
		return FrameInfo{}
	}
	// 与 STREAMINFO 不一致视为载荷内的伪同步码
	if sp.SampleRate > 0 && sampleRate != sp.SampleRate {
		return FrameInfo{}
	}

	// 帧头 CRC-8
	if pos >= len(buf) {
		return FrameInfo{}
	}
	if crc8(buf[:pos]) != buf[pos] {
		return FrameInfo{}
	}
	pos++

	// 固定块大小流: 编码值为帧号，样本号 = 帧号 * 块大小
	sampleNum := coded
	if !variableBlocking {
		constBlock := uint64(sp.MaxBlockSize)
		if constBlock == 0 {
			constBlock = uint64(blockSize)
		}
		sampleNum = coded * constBlock
	}

	return FrameInfo{
		StartOffset: offset,
		HeaderLen:   pos,
		BlockSize:   blockSize,
		SampleNum:   sampleNum,
		TimeUs:      int64(sampleNum * 1000000 / uint64(sampleRate)),
		Valid:       true,
	}
}

// FindFrameStart 在窗口内向前扫描第一个合法帧头
// 始终返回第一个通过校验的候选，保证扫描结果确定
func FindFrameStart(data []byte, sp StreamParams) (int, FrameInfo, bool) {
	for i := 0; i+MinHeaderSize <= len(data); i++ {
		if data[i] != config.SyncByte0 {
			continue
		}
		fi := Validate(data, i, sp)
		if fi.Valid {
			return i, fi, true
		}
	}
	return -1, FrameInfo{}, false
}

// decodeCodedNumber 解码 UTF-8 风格的变长编号 (最长 7 字节 / 56 位)
// 返回值与消耗的字节数；非法序列返回 n=0
func decodeCodedNumber(buf []byte) (uint64, int) {
	if len(buf) == 0 {
		return 0, 0
	}
	b0 := buf[0]
	if b0&0x80 == 0 {
		return uint64(b0), 1
	}

	// 前导 1 的个数决定总字节数
	total := 0
	for mask := byte(0x80); mask != 0 && b0&mask != 0; mask >>= 1 {
		total++
	}
	if total < 2 || total > 7 || len(buf) < total {
		return 0, 0
	}

	val := uint64(b0 & (0x7F >> total))
	for i := 1; i < total; i++ {
		if buf[i]&0xC0 != 0x80 {
			return 0, 0
		}
		val = val<<6 | uint64(buf[i]&0x3F)
	}
	return val, total
}

// decodeBlockSize 固定编码的块大小 (6/7 为显式编码，由调用方继续解析)
func decodeBlockSize(code byte) uint32 {
	switch {
	case code == 1:
		return 192
	case code >= 2 && code <= 5:
		return 576 << (code - 2)
	case code >= 8:
		return 256 << (code - 8)
	}
	return 0
}
