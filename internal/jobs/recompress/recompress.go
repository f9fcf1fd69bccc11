// Package recompress stores a gzip copy of supplied data as the job's
// generated data.
package recompress

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/runner"
)

// Kind identifies job data recompression specifications.
const Kind = "jobdatarecompress"

const chunkSize = 64 << 10

// Specification requests a best-compression gzip copy of DataGUID.
type Specification struct {
	model.BaseSpecification
	DataGUID string `json:"data_guid"`
}

func (s *Specification) Kind() string { return Kind }

func (s *Specification) SuppliedDataGUIDs() []string {
	return []string{s.DataGUID}
}

func (s *Specification) Equivalent(other model.Specification) bool {
	o, ok := other.(*Specification)
	return ok && model.SameBase(s, o) && s.DataGUID == o.DataGUID
}

// NewRunner returns the recompression runner.
func NewRunner() runner.Runner {
	return runner.Typed(Kind, run)
}

func run(ctx context.Context, job runner.Job, spec *Specification) error {
	obj, ok, err := job.ObtainData(ctx, spec.DataGUID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("supplied data %s is gone", spec.DataGUID)
	}
	defer obj.Close()

	// Progress follows the stored bytes, so count before decoding.
	counted := &countingReader{r: obj}
	var src io.Reader = counted
	if obj.Data.Encoding == model.EncodingGzip {
		zr, err := gzip.NewReader(counted)
		if err != nil {
			return fmt.Errorf("open gzip data %s: %w", spec.DataGUID, err)
		}
		defer zr.Close()
		src = zr
	}

	w, err := job.StoreGeneratedData(ctx, obj.Data.Name, obj.Data.MediaType, model.EncodingGzip)
	if err != nil {
		return err
	}
	if err := compress(job, w, src, counted, obj.Data.Size); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			job.Logger().Warn("failed to abort recompressed data", "data_guid", w.GUID(), "error", abortErr)
		}
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	job.Logger().Info("did recompress job data",
		"supplied_data_guid", spec.DataGUID,
		"data_guid", w.GUID(),
		"read_bytes", counted.n,
	)
	return job.SetProgress(100)
}

func compress(job runner.Job, dst io.Writer, src io.Reader, counted *countingReader, total int64) error {
	gz, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		return err
	}

	buf := make([]byte, chunkSize)
	for {
		if err := runner.CheckCancelled(job); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := gz.Write(buf[:n]); err != nil {
				return fmt.Errorf("compress data: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read data: %w", readErr)
		}
		if total > 0 {
			if err := job.SetProgress(int(counted.n * 99 / total)); err != nil {
				return err
			}
		}
	}

	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress data: %w", err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
