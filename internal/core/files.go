package core

import (
	"io"
	"os"
)

// LocalFile is one file queued for upload. Name is what the server sees.
type LocalFile struct {
	Path string
	Name string
	Size int64
}

func (f LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// TotalSize sums the sizes of files.
func TotalSize(files []LocalFile) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}
