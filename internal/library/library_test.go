package library

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"flacstream/internal/index"
)

// 合成曲目参数: 32kHz / 4096 样本每帧 / 21 整帧 + 1696 样本尾帧
const (
	synthRate     = 32000
	synthBlock    = 4096
	synthFrames   = 21
	synthTailLen  = 1696
	synthDuration = int64(synthFrames*synthBlock+synthTailLen) * 1000000 / synthRate
)

func synthCRC8(data []byte) byte {
	var c byte
	for _, b := range data {
		for bit := 0; bit < 8; bit++ {
			if (c^b)&0x80 != 0 {
				c = c<<1 ^ 0x07
			} else {
				c <<= 1
			}
			b <<= 1
		}
	}
	return c
}

func synthFrameNum(n uint64) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	return []byte{0xC0 | byte(n>>6), 0x80 | byte(n&0x3F)}
}

// buildFrameData 生成帧数据区，返回 (数据, 每帧偏移, 最小帧, 最大帧)
func buildFrameData() ([]byte, []int64, int, int) {
	var data []byte
	var offsets []int64
	var minFrame, maxFrame int

	appendFrame := func(header []byte, payloadLen, idx int) {
		start := len(data)
		offsets = append(offsets, int64(start))
		data = append(data, header...)
		for j := 0; j < payloadLen; j++ {
			data = append(data, byte((idx*37+j*11)%0xFD))
		}
		size := len(data) - start
		if minFrame == 0 || size < minFrame {
			minFrame = size
		}
		if size > maxFrame {
			maxFrame = size
		}
	}

	for i := 0; i < synthFrames; i++ {
		h := []byte{0xFF, 0xF8, 0xC8, 0x18}
		h = append(h, synthFrameNum(uint64(i))...)
		h = append(h, synthCRC8(h))
		appendFrame(h, 2000+(i%5)*400, i)
	}

	h := []byte{0xFF, 0xF8, 0x78, 0x18}
	h = append(h, synthFrameNum(uint64(synthFrames))...)
	h = append(h, byte((synthTailLen-1)>>8), byte((synthTailLen-1)&0xFF))
	h = append(h, synthCRC8(h))
	appendFrame(h, 900, synthFrames)

	return data, offsets, minFrame, maxFrame
}

// writeFlacFile 落盘完整的 FLAC 容器，withTable 控制是否带 seek table
func writeFlacFile(t *testing.T, path string, withTable bool) {
	t.Helper()

	frameData, offsets, minFrame, maxFrame := buildFrameData()

	si := make([]byte, 34)
	binary.BigEndian.PutUint16(si[0:2], synthBlock)
	binary.BigEndian.PutUint16(si[2:4], synthBlock)
	si[4], si[5], si[6] = byte(minFrame>>16), byte(minFrame>>8), byte(minFrame)
	si[7], si[8], si[9] = byte(maxFrame>>16), byte(maxFrame>>8), byte(maxFrame)
	totalSamples := uint64(synthFrames*synthBlock + synthTailLen)
	si[10] = byte(synthRate >> 12)
	si[11] = byte(synthRate >> 4 & 0xFF)
	si[12] = byte(synthRate&0x0F)<<4 | (2-1)<<1 | byte((16-1)>>4)
	si[13] = byte((16-1)&0x0F)<<4 | byte(totalSamples>>32&0x0F)
	binary.BigEndian.PutUint32(si[14:18], uint32(totalSamples))

	blockHeader := func(blockType byte, length int, last bool) []byte {
		b0 := blockType
		if last {
			b0 |= 0x80
		}
		return []byte{b0, byte(length >> 16), byte(length >> 8), byte(length)}
	}

	vendor := "flacstream test"
	var tags []byte
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(vendor)))
	tags = append(tags, vendor...)
	comments := []string{"TITLE=合成测试曲", "ARTIST=流媒体"}
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(comments)))
	for _, c := range comments {
		tags = binary.LittleEndian.AppendUint32(tags, uint32(len(c)))
		tags = append(tags, c...)
	}

	var buf bytes.Buffer
	buf.WriteString("fLaC")
	buf.Write(blockHeader(0, len(si), false))
	buf.Write(si)

	if withTable {
		// 每 5 帧一个检查点
		var table []byte
		for i := 0; i < len(offsets); i += 5 {
			var rec [18]byte
			binary.BigEndian.PutUint64(rec[0:8], uint64(i*synthBlock))
			binary.BigEndian.PutUint64(rec[8:16], uint64(offsets[i]))
			binary.BigEndian.PutUint16(rec[16:18], synthBlock)
			table = append(table, rec[:]...)
		}
		buf.Write(blockHeader(3, len(table), false))
		buf.Write(table)
	}

	buf.Write(blockHeader(4, len(tags), true))
	buf.Write(tags)
	buf.Write(frameData)

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func setupLibrary(t *testing.T, withTable bool) (*Library, string) {
	t.Helper()

	oldCache := index.GetCacheDir()
	t.Cleanup(func() { index.SetCacheDir(oldCache) })
	index.SetCacheDir(t.TempDir())

	dir := t.TempDir()
	writeFlacFile(t, filepath.Join(dir, "track.flac"), withTable)
	// 非 FLAC 文件应被扫描忽略
	os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte{0xFF, 0xD8}, 0644)

	lib := NewLibrary(dir)
	t.Cleanup(lib.Close)
	return lib, dir
}

func TestLibraryLoadAndBuild(t *testing.T) {
	lib, _ := setupLibrary(t, true)

	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !lib.IsLoaded() {
		t.Fatal("Load 后 IsLoaded 应为 true")
	}
	if err := lib.BuildCache(); err != nil {
		t.Fatalf("BuildCache: %v", err)
	}

	status := lib.GetCacheStatus()
	if status.Status != "ready" || status.Cached != 1 {
		t.Errorf("缓存状态 = %+v", status)
	}

	infos := lib.Tracks()
	if len(infos) != 1 {
		t.Fatalf("曲目数 = %d, want 1 (jpg 应被忽略)", len(infos))
	}
	info := infos[0]
	if info.Title != "合成测试曲" || info.Artist != "流媒体" {
		t.Errorf("标签 = %q / %q", info.Title, info.Artist)
	}
	if info.DurationUs != synthDuration {
		t.Errorf("DurationUs = %d, want %d", info.DurationUs, synthDuration)
	}
	if info.SampleRate != synthRate || info.Channels != 2 || info.BitDepth != 16 {
		t.Errorf("流参数 = %+v", info)
	}
	if !info.Seekable || !info.SeekTable {
		t.Errorf("带表曲目应走查表策略: %+v", info)
	}
}

func TestLibrarySeekTableTrack(t *testing.T) {
	lib, _ := setupLibrary(t, true)
	if err := lib.BuildCache(); err != nil {
		t.Fatal(err)
	}

	track, ok := lib.Track(0)
	if !ok {
		t.Fatal("曲目 0 不存在")
	}
	if track.SeekMap.Mode() != "seektable" {
		t.Fatalf("Mode = %s, want seektable", track.SeekMap.Mode())
	}

	// 检查点间隔 5 帧 = 640000us: 1234000 落回 640000
	p, err := track.SeekTo(1234000)
	if err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if p.TimeUs != 640000 {
		t.Errorf("SeekTo(1234000).TimeUs = %d, want 640000", p.TimeUs)
	}

	// 检查点偏移处必须是帧头 (同步字节)
	data, err := track.ReadFrameData(p.Offset, 2)
	if err != nil {
		t.Fatalf("ReadFrameData: %v", err)
	}
	if data[0] != 0xFF || data[1]&0xFE != 0xF8 {
		t.Errorf("检查点未落在帧头上: % x", data)
	}

	if abs := track.AbsoluteOffset(p); abs != track.Meta.FirstFrameOffset+p.Offset {
		t.Errorf("AbsoluteOffset = %d", abs)
	}
}

func TestLibraryBisectTrack(t *testing.T) {
	lib, _ := setupLibrary(t, false)
	if err := lib.BuildCache(); err != nil {
		t.Fatal(err)
	}

	track, ok := lib.Track(0)
	if !ok {
		t.Fatal("曲目 0 不存在")
	}
	if track.SeekMap.Mode() != "bisect" {
		t.Fatalf("无表曲目 Mode = %s, want bisect", track.SeekMap.Mode())
	}

	// 二分收敛到帧精度: 1234000 / 128000 -> 第 9 帧 (1152000us)
	p, err := track.SeekTo(1234000)
	if err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if p.TimeUs != 1152000 {
		t.Errorf("SeekTo(1234000).TimeUs = %d, want 1152000", p.TimeUs)
	}

	data, err := track.ReadFrameData(p.Offset, 2)
	if err != nil {
		t.Fatalf("ReadFrameData: %v", err)
	}
	if data[0] != 0xFF || data[1]&0xFE != 0xF8 {
		t.Errorf("二分结果未落在帧头上: % x", data)
	}
}

// 第二次构建应命中 mmap 缓存
func TestLibrarySeekPointCacheReuse(t *testing.T) {
	lib, dir := setupLibrary(t, true)
	if err := lib.BuildCache(); err != nil {
		t.Fatal(err)
	}
	if info, _ := lib.TrackInfo(0); info.CachedIndex {
		t.Error("首次构建不应命中缓存")
	}
	lib.Close()

	lib2 := NewLibrary(dir)
	defer lib2.Close()
	if err := lib2.BuildCache(); err != nil {
		t.Fatal(err)
	}
	info, ok := lib2.TrackInfo(0)
	if !ok {
		t.Fatal("曲目 0 不存在")
	}
	if !info.CachedIndex {
		t.Error("二次构建应命中 mmap 缓存")
	}
	if info.SeekPoints == 0 || !info.SeekTable {
		t.Errorf("缓存加载后 seek table 丢失: %+v", info)
	}
}

func TestLibraryLoadMissingDir(t *testing.T) {
	lib := NewLibrary("/nonexistent/music")
	if err := lib.Load(); err == nil {
		t.Error("不存在的目录应报错")
	}
}
