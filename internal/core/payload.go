package core

import (
	"fmt"
	"io"
	"mime/multipart"
	"sync/atomic"
)

// FormField is the multipart field the server reads uploads from.
const FormField = "files"

// Payload streams files as a multipart/form-data body without buffering
// them in memory.
type Payload struct {
	files    []LocalFile
	boundary string
	sent     atomic.Int64
}

func NewPayload(files []LocalFile) *Payload {
	return &Payload{
		files:    files,
		boundary: multipart.NewWriter(io.Discard).Boundary(),
	}
}

func (p *Payload) ContentType() string {
	return "multipart/form-data; boundary=" + p.boundary
}

// ContentLength is the exact body size, provided no file changes size
// before it is read.
func (p *Payload) ContentLength() int64 {
	var cw countingWriter
	mw := p.writer(&cw)
	for _, f := range p.files {
		mw.CreateFormFile(FormField, f.Name)
	}
	mw.Close()
	return cw.n + TotalSize(p.files)
}

// Sent reports how many file bytes the body has produced so far.
func (p *Payload) Sent() int64 {
	return p.sent.Load()
}

// Reader returns the body. Each call starts a new stream.
func (p *Payload) Reader() io.ReadCloser {
	pr, pw := io.Pipe()
	p.sent.Store(0)
	go func() {
		pw.CloseWithError(p.write(pw))
	}()
	return pr
}

func (p *Payload) write(w io.Writer) error {
	mw := p.writer(w)
	for _, f := range p.files {
		part, err := mw.CreateFormFile(FormField, f.Name)
		if err != nil {
			return err
		}
		if err := p.copyFile(part, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func (p *Payload) copyFile(w io.Writer, f LocalFile) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Path, err)
	}
	defer rc.Close()

	n, err := io.Copy(w, &progressReader{r: rc, sent: &p.sent})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	if n != f.Size {
		return fmt.Errorf("%s changed size during upload (%d != %d bytes)", f.Path, n, f.Size)
	}
	return nil
}

func (p *Payload) writer(w io.Writer) *multipart.Writer {
	mw := multipart.NewWriter(w)
	// The boundary is generated by multipart and always valid.
	_ = mw.SetBoundary(p.boundary)
	return mw
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(b []byte) (int, error) {
	c.n += int64(len(b))
	return len(b), nil
}

type progressReader struct {
	r    io.Reader
	sent *atomic.Int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent.Add(int64(n))
	return n, err
}
