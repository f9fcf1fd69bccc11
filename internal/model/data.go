package model

import (
	"fmt"
	"strings"
	"time"
)

// Encoding tags how stored bytes are encoded.
type Encoding string

// Encoding constants.
const (
	EncodingNone Encoding = "none"
	EncodingGzip Encoding = "gzip"
)

// ParseEncoding converts a case-insensitive encoding name. An empty string
// is EncodingNone.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "identity":
		return EncodingNone, nil
	case "gzip":
		return EncodingGzip, nil
	default:
		return "", fmt.Errorf("unknown data encoding %q", s)
	}
}

// DataType distinguishes job input from job output.
type DataType string

// Data type constants.
const (
	DataSupplied  DataType = "SUPPLIED"
	DataGenerated DataType = "GENERATED"
)

// Common media types.
const (
	MediaTypeCSV       = "text/csv;charset=utf-8"
	MediaTypePlainText = "text/plain;charset=utf-8"
	MediaTypeGzip      = "application/gzip"
	MediaTypeZip       = "application/zip"
	MediaTypeTar       = "application/x-tar"
	MediaTypeJSON      = "application/json"
	MediaTypeOctet     = "application/octet-stream"
)

// JobData describes one stored blob. The bytes themselves live in the data store.
type JobData struct {
	GUID      string    `json:"guid"`
	Name      string    `json:"name"`
	MediaType string    `json:"media_type"`
	Encoding  Encoding  `json:"encoding"`
	Type      DataType  `json:"type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
