package library

import (
	"io"
	"os"
)

// fileTransport 文件传输层，位置以帧数据区为基准
type fileTransport struct {
	f    *os.File
	base int64 // 帧数据区在文件内的起始位置
}

func newFileTransport(f *os.File, base int64) *fileTransport {
	return &fileTransport{f: f, base: base}
}

// ReadAt 读取帧数据区内 pos 处的 n 字节
// 文件尾部的短读返回已读部分；真正的读错误原样上抛
func (t *fileTransport) ReadAt(pos int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	m, err := t.f.ReadAt(buf, t.base+pos)
	if m > 0 {
		return buf[:m], nil
	}
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	}
	return nil, err
}
