package datastore

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/seantiz/depotjobs/internal/model"
)

// Object is an open blob. Reading it yields the stored bytes as-is;
// Decoded strips the content encoding.
type Object struct {
	Data model.JobData
	body io.ReadCloser
}

func (o *Object) Read(p []byte) (int, error) {
	return o.body.Read(p)
}

func (o *Object) Close() error {
	return o.body.Close()
}

// Decoded returns a reader over the decoded bytes. Closing it closes the object.
func (o *Object) Decoded() (io.ReadCloser, error) {
	switch o.Data.Encoding {
	case model.EncodingGzip:
		zr, err := gzip.NewReader(o.body)
		if err != nil {
			return nil, fmt.Errorf("open gzip data %s: %w", o.Data.GUID, err)
		}
		return &gzipReadCloser{zr: zr, body: o.body}, nil
	default:
		return o.body, nil
	}
}

type gzipReadCloser struct {
	zr   *gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.zr.Read(p)
}

func (g *gzipReadCloser) Close() error {
	zerr := g.zr.Close()
	if err := g.body.Close(); err != nil {
		return err
	}
	return zerr
}
