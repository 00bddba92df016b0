package model

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// CacheEntry is a stored response keyed by request URL.
type CacheEntry struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// NewCacheEntry copies status, headers and body so the entry shares no
// memory with the response it was taken from.
func NewCacheEntry(url string, statusCode int, header http.Header, body []byte) *CacheEntry {
	return &CacheEntry{
		URL:        url,
		StatusCode: statusCode,
		Header:     header.Clone(),
		Body:       bytes.Clone(body),
		StoredAt:   time.Now().UTC(),
	}
}

func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	c.Body = bytes.Clone(e.Body)
	return &c
}

// OK mirrors Response.ok: a 2xx status.
func (e *CacheEntry) OK() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// Response builds a fresh response with its own body reader.
func (e *CacheEntry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
