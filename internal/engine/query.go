package engine

import (
	"fmt"
	"mime"
	"sort"
	"strings"

	"github.com/seantiz/depotjobs/internal/model"
)

// JobQuery filters SearchJobs. Empty Statuses matches every status and an
// empty OwnerNickname matches every owner. Limit <= 0 means no limit.
type JobQuery struct {
	Statuses      []model.Status
	OwnerNickname string
	Offset        int
	Limit         int
}

// TryGetJob returns a copy of the job's snapshot.
func (e *Engine) TryGetJob(guid string) (model.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[guid]
	if !ok {
		return model.Snapshot{}, false
	}
	return j.snap.Clone(), true
}

// SearchJobs returns one page of matching snapshots, most recently queued
// first, and the total number of matches.
func (e *Engine) SearchJobs(q JobQuery) ([]model.Snapshot, int) {
	statuses := model.NewStatusSet(q.Statuses...)

	e.mu.Lock()
	matches := make([]model.Snapshot, 0, len(e.jobs))
	for _, j := range e.jobs {
		if len(statuses) > 0 && !statuses.Contains(j.snap.Status) {
			continue
		}
		if q.OwnerNickname != "" && j.snap.OwnerNickname != q.OwnerNickname {
			continue
		}
		matches = append(matches, j.snap.Clone())
	}
	e.mu.Unlock()

	sort.Slice(matches, func(a, b int) bool {
		if !matches[a].QueuedAt.Equal(matches[b].QueuedAt) {
			return matches[a].QueuedAt.After(matches[b].QueuedAt)
		}
		return matches[a].GUID < matches[b].GUID
	})

	total := len(matches)
	offset := max(q.Offset, 0)
	if offset >= total {
		return []model.Snapshot{}, total
	}
	end := total
	if q.Limit > 0 {
		end = min(offset+q.Limit, total)
	}
	return matches[offset:end], total
}

// StatusCounts returns the number of jobs in each status. Every status is
// present, including those with no jobs.
func (e *Engine) StatusCounts() map[model.Status]int {
	counts := make(map[model.Status]int, len(model.AllStatuses))
	for _, s := range model.AllStatuses {
		counts[s] = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		counts[j.snap.Status]++
	}
	return counts
}

// TryGetJobForData returns the job that supplied or generated dataGUID.
func (e *Engine) TryGetJobForData(dataGUID string) (model.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if j := e.ownerOf(dataGUID); j != nil {
		return j.snap.Clone(), true
	}
	return model.Snapshot{}, false
}

// ownerOf returns the first job referencing dataGUID. The caller holds e.mu.
func (e *Engine) ownerOf(dataGUID string) *job {
	for _, j := range e.jobs {
		if j.snap.OwnsData(dataGUID) {
			return j
		}
	}
	return nil
}

// DeriveDataFilename suggests a download filename for a stored blob, in
// the form depot_<kind>_<yyyyMMddHHmmss>_<guid prefix>.<ext>. Blobs not
// owned by any job use "jobdata" as the kind.
func (e *Engine) DeriveDataFilename(dataGUID string) (string, bool) {
	d, ok := e.data.Lookup(dataGUID)
	if !ok {
		return "", false
	}

	kind := "jobdata"
	if snap, ok := e.TryGetJobForData(dataGUID); ok {
		kind = sanitizeFilenamePart(snap.Kind)
	}

	prefix := d.GUID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}

	return fmt.Sprintf("depot_%s_%s_%s.%s",
		kind,
		d.CreatedAt.UTC().Format("20060102150405"),
		prefix,
		extensionFor(d.MediaType, d.Encoding),
	), true
}

func extensionFor(mediaType string, enc model.Encoding) string {
	base, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(mediaType))
	}

	gz := enc == model.EncodingGzip
	var ext string
	switch base {
	case "text/csv":
		ext = "csv"
	case "text/plain":
		ext = "txt"
	case "application/json":
		ext = "json"
	case "application/zip":
		ext = "zip"
	case "application/gzip", "application/x-gzip":
		return "gz"
	case "application/x-tar", "application/x-gtar":
		if gz {
			return "tgz"
		}
		ext = "tar"
	default:
		ext = "dat"
	}
	if gz {
		ext += ".gz"
	}
	return ext
}

func sanitizeFilenamePart(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
