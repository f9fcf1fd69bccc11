package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/seantiz/depotjobs/internal/model"
)

func upload(t *testing.T, url, contentType string, body []byte) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestUploadAndDownloadData(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := upload(t, ts.URL+"/v1/data?name=input.csv", model.MediaTypeCSV, []byte("a,b\n1,2\n"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var d model.JobData
	decodeJSON(t, resp.Body, &d)
	if d.Type != model.DataSupplied {
		t.Errorf("type = %s, want SUPPLIED", d.Type)
	}
	if d.Size != 8 {
		t.Errorf("size = %d, want 8", d.Size)
	}

	get, err := http.Get(ts.URL + "/v1/data/" + d.GUID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer get.Body.Close()

	if get.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", get.StatusCode)
	}
	if ct := get.Header.Get("Content-Type"); ct != model.MediaTypeCSV {
		t.Errorf("Content-Type = %q, want %q", ct, model.MediaTypeCSV)
	}
	cd := get.Header.Get("Content-Disposition")
	if !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "depot_jobdata_") || !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body, _ := io.ReadAll(get.Body)
	if string(body) != "a,b\n1,2\n" {
		t.Errorf("body = %q", body)
	}
}

func TestDownloadGzipData(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := upload(t, ts.URL+"/v1/data?name=notes.txt&encoding=gzip", model.MediaTypePlainText, gzipBytes(t, "hello depot"))
	var d model.JobData
	decodeJSON(t, resp.Body, &d)
	resp.Body.Close()
	if d.Encoding != model.EncodingGzip {
		t.Fatalf("encoding = %s, want gzip", d.Encoding)
	}

	// Transport compression is disabled so the raw response is visible.
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}

	t.Run("client accepts gzip", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/data/"+d.GUID, nil)
		req.Header.Set("Accept-Encoding", "gzip, deflate")
		get, err := client.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer get.Body.Close()

		if ce := get.Header.Get("Content-Encoding"); ce != "gzip" {
			t.Fatalf("Content-Encoding = %q, want gzip", ce)
		}
		zr, err := gzip.NewReader(get.Body)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		body, _ := io.ReadAll(zr)
		if string(body) != "hello depot" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("client without gzip", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/data/"+d.GUID, nil)
		get, err := client.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer get.Body.Close()

		if ce := get.Header.Get("Content-Encoding"); ce != "" {
			t.Errorf("Content-Encoding = %q, want none", ce)
		}
		body, _ := io.ReadAll(get.Body)
		if string(body) != "hello depot" {
			t.Errorf("body = %q", body)
		}
	})
}

func TestUploadDataBadRequest(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name        string
		query       string
		contentType string
	}{
		{"missing name", "", "text/plain"},
		{"unknown encoding", "?name=x&encoding=brotli", "text/plain"},
		{"bad content type", "?name=x", "text/;;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, ts.URL+"/v1/data"+tt.query, tt.contentType, []byte("x"))
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestDownloadDataNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/data/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"gzip", true},
		{"deflate, GZIP;q=0.8", true},
		{"gzip;q=0", false},
		{"br", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Accept-Encoding", tt.header)
		if got := acceptsGzip(r); got != tt.want {
			t.Errorf("acceptsGzip(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestRecompressUploadedData(t *testing.T) {
	srv, eng := newTestServerWithEngine(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	text := strings.Repeat("a,b,c\n", 2000)
	resp := upload(t, ts.URL+"/v1/data?name=rows.csv", model.MediaTypeCSV, []byte(text))
	var input model.JobData
	decodeJSON(t, resp.Body, &input)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/jobs/recompress", `{"data_guid":"`+input.GUID+`"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("queue status = %d, want 202", resp.StatusCode)
	}
	var queued queueJobResponse
	decodeJSON(t, resp.Body, &queued)
	resp.Body.Close()

	waitForStatus(t, eng, queued.GUID, model.StatusFinished)
	snap, _ := eng.TryGetJob(queued.GUID)
	if len(snap.GeneratedDataGUIDs) != 1 {
		t.Fatalf("generated data = %v, want one entry", snap.GeneratedDataGUIDs)
	}
	out := snap.GeneratedDataGUIDs[0]

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/data/"+out, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET data: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != text {
		t.Errorf("round-tripped body differs: got %d bytes, want %d", len(body), len(text))
	}
}

func TestRecompressBadRequest(t *testing.T) {
	srv, _ := newTestServerWithEngine(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, body := range []string{
		`not json`,
		`{}`,
		`{"data_guid":"` + model.NewID() + `"}`,
	} {
		resp := postJSON(t, ts.URL+"/v1/jobs/recompress", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}
