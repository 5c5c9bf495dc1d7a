/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package fileserv resolves a request target to a file under the
// document root, computes validators, evaluates conditional GET
// headers, and populates the response cache for cacheable files, per
// spec §4.4. Grounded on original_source/src/http.c's http_serve_file
// and http_handle_request for the resolution/validator shape, and on
// the teacher's cache/item package for the freshness contract shared
// with internal/cache.
package fileserv

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/nabbar/nxlite/internal/cache"
	"github.com/nabbar/nxlite/internal/httpproto"
	"github.com/nabbar/nxlite/internal/nxerr"
)

// pathMax bounds the concatenated root+target length, per spec §4.4's
// "fixed buffer" contract (414 on overflow).
const pathMax = 4096

// mimeTypes mirrors original_source/src/http.c's table; the default
// ("application/octet-stream") is used for unrecognized extensions.
var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
}

const defaultMime = "application/octet-stream"

// mimeType returns the MIME type for the given path's extension.
func mimeType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return defaultMime
}

// cacheControl chooses the Cache-Control value by extension, per the
// spec §4.4 table.
func cacheControl(p string) string {
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".css", ".js":
		return "public, max-age=86400, must-revalidate"
	case ".png", ".jpg", ".jpeg", ".gif", ".ico":
		return "public, max-age=604800, immutable"
	case ".html", ".htm":
		return "public, max-age=300, must-revalidate"
	case ".pdf", ".doc", ".docx":
		return "public, max-age=86400"
	}
	if _, known := mimeTypes[ext]; known {
		return "public, max-age=3600"
	}
	return "no-cache, no-store, must-revalidate"
}

// ETag computes the spec §4.4 validator: "<ino hex>-<size hex>-<mtime hex>".
func ETag(ino, size uint64, mtime int64) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%x-%x-%x", ino, size, mtime))
}

// rfc1123GMT is RFC-1123 with a literal GMT zone, the format HTTP
// validators use (Go's time.RFC1123 would print the zone abbreviation
// of the Location instead, which is wrong once UTC is loaded as "UTC").
const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// lastModified formats t as RFC-1123 UTC, per spec §4.4.
func lastModified(t time.Time) string {
	return t.UTC().Format(rfc1123GMT)
}

// Outcome is the result of Resolve, consumed by the connection state
// machine to build the response sent to the socket. For a live
// (non-cached) outcome, Headers carries the structured header list and
// the sender serializes it with httpproto.Response.Serialize, adding
// the Connection line itself. For a FromCache outcome, HeaderBlock
// already holds the serialized status line and headers (no Connection,
// no trailing blank line) as recovered from the cached bytes; the
// sender writes HeaderBlock, then its own Connection line and blank
// line, then Body — the cache never stores a baked-in Connection
// header, per spec §4.2.
type Outcome struct {
	Status      int
	Headers     []httpproto.Header
	HeaderBlock []byte
	Body        []byte
	File        *os.File // non-nil when the body must stream from disk; owned by the caller until sent
	FileSize    int64
	SendBody    bool // false for HEAD or a 304 response
	FromCache   bool
}

// CacheObserver receives cache lookup outcomes, satisfied by
// *metrics.Worker. A Service with no observer wired simply skips the
// calls, which is spec-legal: the cache counters are an observability
// aid, not a correctness requirement.
type CacheObserver interface {
	IncCacheHit()
	IncCacheMiss()
}

// Service resolves requests against a document root and populates
// cache for cacheable files.
type Service struct {
	root  string
	cache *cache.Cache
	obs   CacheObserver
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithCacheObserver wires obs to receive a hit/miss count on every
// cache lookup Resolve performs.
func WithCacheObserver(obs CacheObserver) Option {
	return func(s *Service) { s.obs = obs }
}

// New builds a Service rooted at root, using c for cache lookups and
// population. A nil cache disables caching (still spec-legal; the
// cache is an optimization, not a correctness requirement).
func New(root string, c *cache.Cache, opts ...Option) *Service {
	s := &Service{root: strings.TrimRight(root, "/"), cache: c}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve maps req to a file under the document root and evaluates
// conditional headers, per spec §4.4. A HEAD request gets the same
// headers with the body suppressed.
func (s *Service) Resolve(req *httpproto.Request) (*Outcome, error) {
	target := path.Clean("/" + req.Target)
	if target == "/" {
		target = "/index.html"
	}

	full := s.root + target
	if len(full) >= pathMax {
		return nil, nxerr.New(nxerr.KindTargetTooLong, "fileserv.Resolve", errPathTooLong)
	}
	if full != s.root && !strings.HasPrefix(full, s.root+"/") {
		return nil, nxerr.New(nxerr.KindForbidden, "fileserv.Resolve", errTraversal)
	}

	isHead := req.Method == "HEAD"
	userAgent, _ := req.Get("User-Agent")
	acceptEncoding, _ := req.Get("Accept-Encoding")
	varyKey := cache.VaryKey(userAgent, acceptEncoding)

	// Conditional requests bypass the cache lookup so their validators
	// are evaluated against the file below.
	_, hasINM := req.Get("If-None-Match")
	_, hasIMS := req.Get("If-Modified-Since")

	if s.cache != nil && !hasINM && !hasIMS {
		raw, ok := s.cache.Lookup(cache.Key{Path: full, Vary: varyKey})
		if ok {
			if status, headerBlock, body, ok := httpproto.SplitCached(raw); ok {
				if s.obs != nil {
					s.obs.IncCacheHit()
				}
				return &Outcome{
					Status:      status,
					HeaderBlock: headerBlock,
					Body:        body,
					SendBody:    !isHead,
					FromCache:   true,
				}, nil
			}
		}
		if !ok && s.obs != nil {
			s.obs.IncCacheMiss()
		}
	}

	f, err := os.OpenFile(full, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nxerr.New(nxerr.KindNotFound, "fileserv.Resolve", err)
		}
		return nil, nxerr.New(nxerr.KindForbidden, "fileserv.Resolve", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nxerr.New(nxerr.KindInternal, "fileserv.Resolve", err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, nxerr.New(nxerr.KindForbidden, "fileserv.Resolve", errNotRegular)
	}

	ino, mtime := statInfo(st)
	etag := ETag(ino, uint64(st.Size()), mtime)
	lm := lastModified(st.ModTime())

	if status, ok := evaluateConditional(req, etag, st.ModTime()); ok {
		f.Close()
		headers := []httpproto.Header{
			{Name: "ETag", Value: etag},
			{Name: "Cache-Control", Value: cacheControl(full)},
			{Name: "Vary", Value: "Accept-Encoding, User-Agent"},
		}
		return &Outcome{Status: status, Headers: headers, SendBody: false}, nil
	}

	headers := []httpproto.Header{
		{Name: "Content-Type", Value: mimeType(full)},
		{Name: "Content-Length", Value: strconv.FormatInt(st.Size(), 10)},
		{Name: "Last-Modified", Value: lm},
		{Name: "Cache-Control", Value: cacheControl(full)},
		{Name: "Vary", Value: "Accept-Encoding, User-Agent"},
		{Name: "ETag", Value: etag},
	}

	out := &Outcome{
		Status:   200,
		Headers:  headers,
		FileSize: st.Size(),
		SendBody: !isHead,
	}

	// The file handle already open for stat'ing is the one streamed or
	// buffered below, never reopened by path: the Content-Length sent
	// and the bytes transferred always come from this one fd, per spec
	// §8 invariant 3.
	cached := false
	if s.cache != nil && s.cache.Cacheable(st.Size()) {
		body, err := io.ReadAll(io.NewSectionReader(f, 0, st.Size()))
		if err == nil {
			resp := &httpproto.Response{Status: 200, Headers: headers, Body: body}
			s.cache.Insert(cache.Key{Path: full, Vary: varyKey}, resp.SerializeNoConnection())
			out.Body = body
			cached = true
		}
	}

	if cached || isHead {
		f.Close()
	} else {
		out.File = f
	}

	return out, nil
}

// evaluateConditional implements spec §4.4's If-None-Match /
// If-Modified-Since evaluation, returning (304, true) on a match.
func evaluateConditional(req *httpproto.Request, etag string, modTime time.Time) (int, bool) {
	if inm, ok := req.Get("If-None-Match"); ok {
		for _, tag := range strings.Split(inm, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" {
				return 304, true
			}
			tag = strings.TrimPrefix(tag, "W/")
			tag = strings.Trim(tag, `"`)
			if tag == strings.Trim(etag, `"`) {
				return 304, true
			}
		}
		return 0, false
	}

	if ims, ok := req.Get("If-Modified-Since"); ok {
		if t, ok := parseHTTPDate(ims); ok {
			if !modTime.UTC().After(t) {
				return 304, true
			}
		}
	}
	return 0, false
}

// httpDateLayouts are the three formats spec §4.4 requires, parsed
// directly as UTC (the Open Question resolution in SPEC_FULL.md: no
// local-timezone conversion is applied).
var httpDateLayouts = []string{
	rfc1123GMT,                       // RFC-1123
	"Monday, 02-Jan-06 15:04:05 MST", // RFC-850
	"Mon Jan  2 15:04:05 2006",       // asctime
}

func parseHTTPDate(s string) (time.Time, bool) {
	for _, layout := range httpDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
