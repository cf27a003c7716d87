package utils

import "io"

// WriterCounter 统计写入的字节数，用于报告输出文件的大小
type WriterCounter struct {
	Writer io.Writer
	Count  uint64
}

func (w *WriterCounter) Write(p []byte) (n int, err error) {
	n, err = w.Writer.Write(p)
	w.Count += uint64(n)
	return
}

// ReadCounter 统计读取的字节数，用于统计远程复制的数据量
type ReadCounter struct {
	Reader io.Reader
	Count  uint64
}

func (r *ReadCounter) Read(p []byte) (n int, err error) {
	n, err = r.Reader.Read(p)
	r.Count += uint64(n)
	return
}
