package index

import (
	"os"
	"path/filepath"
	"testing"

	"flacstream/internal/models"
)

func setupCacheDir(t *testing.T) string {
	t.Helper()
	old := GetCacheDir()
	t.Cleanup(func() { SetCacheDir(old) })

	dir := t.TempDir()
	SetCacheDir(dir)
	return dir
}

func writeMediaFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	dir := setupCacheDir(t)
	media := writeMediaFile(t, dir, "track.flac", 1024)

	records := []models.SeekPointRecord{
		{TimeUs: 0, Offset: 0},
		{TimeUs: 128000, Offset: 2048},
		{TimeUs: 256000, Offset: 4100},
	}

	if CacheExists(media) {
		t.Fatal("保存前缓存不应存在")
	}
	if err := SaveCache(media, records); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	if !CacheExists(media) {
		t.Fatal("保存后缓存应存在")
	}

	c, err := LoadCache(media)
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}

	if c.Count != len(records) {
		t.Fatalf("Count = %d, want %d", c.Count, len(records))
	}
	for i, want := range records {
		if c.Records[i] != want {
			t.Errorf("记录 %d = %+v, want %+v", i, c.Records[i], want)
		}
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCacheMissReturnsError(t *testing.T) {
	dir := setupCacheDir(t)
	media := writeMediaFile(t, dir, "uncached.flac", 512)

	if _, err := LoadCache(media); err == nil {
		t.Error("无缓存时 LoadCache 应报错")
	}
}

func TestCacheKeyedByNameAndSize(t *testing.T) {
	dir := setupCacheDir(t)
	a := writeMediaFile(t, dir, "a.flac", 1000)
	b := writeMediaFile(t, dir, "b.flac", 1000)

	if err := SaveCache(a, []models.SeekPointRecord{{TimeUs: 1, Offset: 2}}); err != nil {
		t.Fatal(err)
	}
	// 同尺寸不同文件名: 各自独立的缓存键
	if CacheExists(b) {
		t.Error("不同文件不应命中同一缓存")
	}

	// 文件尺寸变化使旧缓存失效
	if err := os.WriteFile(a, make([]byte, 2000), 0644); err != nil {
		t.Fatal(err)
	}
	if CacheExists(a) {
		t.Error("尺寸变化后旧缓存应失效")
	}
}

func TestCacheRejectsCorruptFile(t *testing.T) {
	dir := setupCacheDir(t)
	media := writeMediaFile(t, dir, "bad.flac", 256)

	hash, err := GetFileHash(media)
	if err != nil {
		t.Fatal(err)
	}
	// 非 16 字节整数倍的缓存文件
	if err := os.WriteFile(getCachePath(hash), make([]byte, RecordSize+3), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCache(media); err == nil {
		t.Error("尺寸非法的缓存文件应被拒绝")
	}
}

func TestSaveCacheEmptyIsNoop(t *testing.T) {
	dir := setupCacheDir(t)
	media := writeMediaFile(t, dir, "empty.flac", 128)

	if err := SaveCache(media, nil); err != nil {
		t.Fatalf("SaveCache(nil): %v", err)
	}
	if CacheExists(media) {
		t.Error("空记录不应落盘")
	}
}
