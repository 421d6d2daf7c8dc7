package flacmeta

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"flacstream/internal/config"
	"flacstream/internal/models"
)

// StreamInfo STREAMINFO 块解析结果
type StreamInfo struct {
	MinBlockSize  uint16
	MaxBlockSize  uint16
	MinFrameSize  uint32 // 0 表示未知
	MaxFrameSize  uint32 // 0 表示未知
	SampleRate    uint32
	Channels      uint8
	BitsPerSample uint8
	TotalSamples  uint64 // 0 表示未知
}

// Metadata 容器元数据，stream-open 时构建一次，之后只读
type Metadata struct {
	FilePath         string
	FileSize         int64
	Info             StreamInfo
	SeekPoints       []models.SeekPointRecord // 已换算为 {微秒, 帧区偏移}，时间升序
	Tags             map[string]string
	FirstFrameOffset int64 // 最后一个元数据块之后的位置
}

// DurationUs 总时长 (微秒)，未知返回 -1
func (m *Metadata) DurationUs() int64 {
	if m.Info.TotalSamples == 0 || m.Info.SampleRate == 0 {
		return -1
	}
	return int64(m.Info.TotalSamples * 1000000 / uint64(m.Info.SampleRate))
}

// FrameDataBytes 帧数据区总字节数，未知返回 -1
func (m *Metadata) FrameDataBytes() int64 {
	if m.FileSize <= 0 || m.FirstFrameOffset <= 0 {
		return -1
	}
	return m.FileSize - m.FirstFrameOffset
}

// Parser FLAC 元数据解析器
type Parser struct {
	FilePath string
	Meta     Metadata
}

// NewParser 创建解析器
func NewParser(filePath string) *Parser {
	return &Parser{FilePath: filePath}
}

// Parse 解析文件
func (p *Parser) Parse() error {
	f, err := os.Open(p.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	meta, err := ParseStream(f, info.Size())
	if err != nil {
		return err
	}
	meta.FilePath = p.FilePath
	p.Meta = meta

	fmt.Printf("[Meta] 解析完成: %s (%d Hz, %d 个 seek point)\n",
		p.FilePath, meta.Info.SampleRate, len(meta.SeekPoints))
	return nil
}

// ParseStream 解析 FLAC 元数据块链
func ParseStream(r io.ReadSeeker, size int64) (Metadata, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Metadata{}, err
	}

	var marker [4]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return Metadata{}, err
	}
	if string(marker[:]) != config.StreamMarker {
		return Metadata{}, fmt.Errorf("不是 FLAC 文件")
	}

	meta := Metadata{FileSize: size, Tags: make(map[string]string)}
	offset := int64(4)

	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return Metadata{}, fmt.Errorf("元数据块头读取失败: %w", err)
		}
		isLast := header[0]&0x80 != 0
		blockType := int(header[0] & 0x7F)
		blockLen := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
		offset += 4

		switch blockType {
		case config.BlockStreamInfo:
			if blockLen < config.StreamInfoSize {
				return Metadata{}, fmt.Errorf("STREAMINFO 块过短: %d", blockLen)
			}
			body := make([]byte, blockLen)
			if _, err := io.ReadFull(r, body); err != nil {
				return Metadata{}, err
			}
			meta.Info = parseStreamInfo(body)

		case config.BlockSeekTable:
			body := make([]byte, blockLen)
			if _, err := io.ReadFull(r, body); err != nil {
				return Metadata{}, err
			}
			meta.SeekPoints = parseSeekTable(body, meta.Info.SampleRate)

		case config.BlockVorbisComment:
			body := make([]byte, blockLen)
			if _, err := io.ReadFull(r, body); err != nil {
				return Metadata{}, err
			}
			parseVorbisComment(body, meta.Tags)

		default:
			if _, err := r.Seek(int64(blockLen), io.SeekCurrent); err != nil {
				return Metadata{}, err
			}
		}

		offset += int64(blockLen)
		if isLast {
			break
		}
	}

	if meta.Info.SampleRate == 0 {
		return Metadata{}, fmt.Errorf("缺少 STREAMINFO")
	}

	meta.FirstFrameOffset = offset
	return meta, nil
}

// parseStreamInfo 解析 34 字节的 STREAMINFO 块体
func parseStreamInfo(data []byte) StreamInfo {
	si := StreamInfo{
		MinBlockSize: binary.BigEndian.Uint16(data[0:2]),
		MaxBlockSize: binary.BigEndian.Uint16(data[2:4]),
		MinFrameSize: uint32(data[4])<<16 | uint32(data[5])<<8 | uint32(data[6]),
		MaxFrameSize: uint32(data[7])<<16 | uint32(data[8])<<8 | uint32(data[9]),
	}
	si.SampleRate = uint32(data[10])<<12 | uint32(data[11])<<4 | uint32(data[12])>>4
	si.Channels = (data[12]&0x0E)>>1 + 1
	si.BitsPerSample = (data[12]&0x01)<<4 | data[13]>>4
	si.BitsPerSample++
	si.TotalSamples = uint64(data[13]&0x0F)<<32 | uint64(binary.BigEndian.Uint32(data[14:18]))
	return si
}

// parseSeekTable 解析 SEEKTABLE 块体
// 条目必须样本号与偏移双重严格递增；任何违反都丢弃整张表，
// 退回二分查找而不是使用半可信的索引
func parseSeekTable(data []byte, sampleRate uint32) []models.SeekPointRecord {
	if sampleRate == 0 {
		return nil
	}

	var points []models.SeekPointRecord
	for pos := 0; pos+config.SeekPointSize <= len(data); pos += config.SeekPointSize {
		sampleNum := binary.BigEndian.Uint64(data[pos : pos+8])
		byteOffset := binary.BigEndian.Uint64(data[pos+8 : pos+16])

		// 跳过占位条目
		if sampleNum == config.PlaceholderSample {
			continue
		}

		rec := models.SeekPointRecord{
			TimeUs: int64(sampleNum * 1000000 / uint64(sampleRate)),
			Offset: int64(byteOffset),
		}

		if n := len(points); n > 0 {
			prev := points[n-1]
			if rec.TimeUs <= prev.TimeUs || rec.Offset <= prev.Offset {
				fmt.Printf("[Meta] seek table 条目乱序，整表丢弃 (条目 %d)\n", n)
				return nil
			}
		}
		points = append(points, rec)
	}

	return points
}

// parseVorbisComment 解析 VORBIS_COMMENT 块体 (小端)
func parseVorbisComment(data []byte, tags map[string]string) {
	pos := 0
	if pos+4 > len(data) {
		return
	}
	vendorLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4 + vendorLen
	if pos+4 > len(data) {
		return
	}
	count := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4

	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return
		}
		entryLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if entryLen < 0 || pos+entryLen > len(data) {
			return
		}
		entry := string(data[pos : pos+entryLen])
		pos += entryLen

		eq := strings.IndexByte(entry, '=')
		if eq <= 0 {
			continue
		}
		key := strings.ToUpper(entry[:eq])
		tags[key] = entry[eq+1:]
	}
}
