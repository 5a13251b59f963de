// Package cachestore keeps named generations of cached HTTP responses.
//
// A generation is a named Cache, such as "static-v1". The background proxy
// writes generations and deletes old ones on activation; the client can wipe
// them all when the user clears the cache.
package cachestore

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Entry is a stored response.
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Cache is one generation: a map from request key to stored response.
type Cache interface {
	// Get returns the entry for key, or nil if there is none.
	Get(key string) (*Entry, error)
	// Put stores e under key, replacing any previous entry.
	Put(key string, e *Entry) error
	// Keys lists the keys stored in this generation.
	Keys() ([]string, error)
}

// Storage holds all generations.
type Storage interface {
	// Open returns the named generation, creating it if needed.
	Open(name string) (Cache, error)
	// Names lists existing generations in lexical order.
	Names() ([]string, error)
	// Delete removes a generation and its entries. Missing names are ignored.
	Delete(name string) error
	// Match searches every generation, in Names order, for key.
	Match(key string) (*Entry, error)
	// DeleteAll removes every generation.
	DeleteAll() error
}

// NewEntry snapshots resp into an Entry. resp.Body is consumed and replaced
// with an equivalent reader so the caller can still return resp.
func NewEntry(resp *http.Response, now time.Time) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	key := ""
	if resp.Request != nil {
		key = resp.Request.URL.String()
	}
	return &Entry{
		URL:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now,
	}, nil
}

// Response rebuilds an *http.Response for req from the entry.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// lookupStorage finds existing generations without creating them.
type lookupStorage interface {
	Names() ([]string, error)
	// lookup returns the named generation, or nil if it does not exist.
	lookup(name string) (Cache, error)
}

func matchIn(s lookupStorage, key string) (*Entry, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c, err := s.lookup(name)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue // deleted since Names
		}
		e, err := c.Get(key)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return e, nil
		}
	}
	return nil, nil
}

func deleteAllIn(s Storage) error {
	names, err := s.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Delete(name); err != nil {
			return err
		}
	}
	return nil
}
