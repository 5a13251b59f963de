package proxy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"stories-go/internal/cachestore"
)

// OfflineMessage is the message of the synthesized API response.
const OfflineMessage = "You are offline. Please check your internet connection."

// offlineEnvelope mirrors the API's error envelope with an extra offline flag.
type offlineEnvelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Offline bool   `json:"offline"`
}

// placeholderPNG is a 1x1 transparent PNG served when no placeholder is cached.
var placeholderPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// RoundTrip serves req according to the first matching strategy:
//
//  1. non-GET: straight to the network
//  2. API origin: network first, cache fallback, then a synthesized 503 envelope
//  3. images: cache first, then network, then a placeholder
//  4. static assets: cache first, then network; failures propagate
//  5. navigations: network, then the cached app shell, then 503 "Offline"
//  6. anything else: network first with write-through, cache fallback
//
// Only 200 responses are written to a cache.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if w.State() != StateActivated || req.Method != http.MethodGet {
		return w.network.RoundTrip(req)
	}

	switch {
	case w.isAPI(req):
		return w.apiNetworkFirst(req)
	case isImage(req):
		return w.imageCacheFirst(req)
	case w.isStatic(req):
		return w.staticCacheFirst(req)
	case isNavigation(req):
		return w.navigation(req)
	default:
		return w.networkFirst(req)
	}
}

func (w *Worker) isAPI(req *http.Request) bool {
	return w.apiOrigin != "" && req.URL.Scheme+"://"+req.URL.Host == w.apiOrigin
}

func isImage(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Dest") == "image" {
		return true
	}
	return imageExtensions[strings.ToLower(path.Ext(req.URL.Path))]
}

func (w *Worker) isStatic(req *http.Request) bool {
	_, ok := w.staticSet[req.URL.String()]
	return ok
}

func isNavigation(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Mode") == "navigate"
}

func cacheKey(req *http.Request) string {
	return req.URL.String()
}

// put writes a 200 response into the named generation. The response body stays readable.
func (w *Worker) put(cacheName string, req *http.Request, resp *http.Response) {
	if resp.StatusCode != http.StatusOK {
		return
	}
	entry, err := cachestore.NewEntry(resp, w.clock.Now())
	if err != nil {
		w.logger.Warn("reading response for cache failed", "url", cacheKey(req), "error", err)
		return
	}
	cache, err := w.storage.Open(cacheName)
	if err == nil {
		err = cache.Put(cacheKey(req), entry)
	}
	if err != nil {
		w.logger.Warn("cache write failed", "cache", cacheName, "url", cacheKey(req), "error", err)
	}
}

func (w *Worker) match(req *http.Request, key string) *http.Response {
	entry, err := w.storage.Match(key)
	if err != nil {
		w.logger.Warn("cache lookup failed", "url", key, "error", err)
		return nil
	}
	if entry == nil {
		return nil
	}
	return entry.Response(req)
}

func isGatewayFailure(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (w *Worker) apiNetworkFirst(req *http.Request) (*http.Response, error) {
	resp, err := w.network.RoundTrip(req)
	if err == nil && !isGatewayFailure(resp) {
		w.put(w.DynamicCache(), req, resp)
		return resp, nil
	}
	if err == nil {
		resp.Body.Close()
		w.logger.Debug("api gateway failure", "url", cacheKey(req), "status", resp.StatusCode)
	} else {
		w.logger.Debug("api unreachable", "url", cacheKey(req), "error", err)
	}

	if cached := w.match(req, cacheKey(req)); cached != nil {
		return cached, nil
	}
	return OfflineResponse(req), nil
}

// OfflineResponse is the synthesized 503 returned for API requests that
// cannot reach the network and have no cached copy.
func OfflineResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(offlineEnvelope{Error: true, Message: OfflineMessage, Offline: true})
	return synthesize(req, http.StatusServiceUnavailable, "application/json", body)
}

func synthesize(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func (w *Worker) imageCacheFirst(req *http.Request) (*http.Response, error) {
	if cached := w.match(req, cacheKey(req)); cached != nil {
		return cached, nil
	}

	resp, err := w.network.RoundTrip(req)
	if err == nil {
		w.put(w.ImageCache(), req, resp)
		return resp, nil
	}

	w.logger.Debug("image unavailable, serving placeholder", "url", cacheKey(req), "error", err)
	if w.placeholder != "" {
		if cached := w.match(req, w.placeholder); cached != nil {
			return cached, nil
		}
	}
	return synthesize(req, http.StatusOK, "image/png", placeholderPNG), nil
}

func (w *Worker) staticCacheFirst(req *http.Request) (*http.Response, error) {
	if cached := w.match(req, cacheKey(req)); cached != nil {
		return cached, nil
	}

	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	w.put(w.StaticCache(), req, resp)
	return resp, nil
}

func (w *Worker) navigation(req *http.Request) (*http.Response, error) {
	resp, err := w.network.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	w.logger.Debug("navigation offline, serving shell", "url", cacheKey(req), "error", err)
	if w.shellURL != "" {
		if cached := w.match(req, w.shellURL); cached != nil {
			return cached, nil
		}
	}
	return synthesize(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte("Offline")), nil
}

func (w *Worker) networkFirst(req *http.Request) (*http.Response, error) {
	resp, err := w.network.RoundTrip(req)
	if err == nil {
		w.put(w.DynamicCache(), req, resp)
		return resp, nil
	}

	if cached := w.match(req, cacheKey(req)); cached != nil {
		return cached, nil
	}
	return nil, err
}
