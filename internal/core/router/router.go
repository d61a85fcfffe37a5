// Package router serves the WFS endpoint: it parses KVP or XML requests,
// hands them to the service and writes the response.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/wfs-server/internal/core/config"
	"github.com/mohammed-shakir/wfs-server/internal/core/observability"
	"github.com/mohammed-shakir/wfs-server/internal/fes"
	mylog "github.com/mohammed-shakir/wfs-server/internal/logger"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/render"
	"github.com/mohammed-shakir/wfs-server/internal/wfs"
)

// Route is the path the WFS endpoint is mounted on.
const Route = "/wfs"

type handler struct {
	svc     *wfs.Service
	parser  *fes.Parser
	logger  *slog.Logger
	maxBody int64
}

// HandleWFS answers GET (KVP) and POST (XML or form encoded KVP) requests.
func HandleWFS(logger *slog.Logger, cfg config.Config, svc *wfs.Service) http.HandlerFunc {
	h := &handler{svc: svc, parser: &fes.Parser{}, logger: logger, maxBody: cfg.MaxBodyBytes}
	if h.maxBody <= 0 {
		h.maxBody = 10 << 20
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		op := "unknown"
		req, err := h.parse(r)
		if req != nil {
			op = req.Operation()
		}
		ctx := mylog.WithRequest(r.Context(), op)
		if err == nil {
			err = h.serve(ctx, sw, r, req)
		}
		if err != nil {
			h.fail(ctx, sw, err)
		}

		secs := time.Since(start).Seconds()
		observability.ObserveRequest(op, sw.code, secs)
		observability.ObserveHTTP(r.Method, Route, sw.code, secs)
	}
}

// fail reports err to the client unless the response already started, in
// which case the renderer wrote an in-band marker and logged it.
func (h *handler) fail(ctx context.Context, sw *statusWriter, err error) {
	if render.IsStreamError(err) {
		return
	}
	oe := ows.As(err)
	if oe.Kind == ows.KindInternal {
		h.logger.ErrorContext(ctx, "wfs request failed", "err", err)
	} else {
		h.logger.InfoContext(ctx, "wfs request rejected", "code", oe.Code, "locator", oe.Locator, "msg", oe.Message)
	}
	if sw.wrote {
		return
	}
	ows.RespondError(sw, oe)
}

func (h *handler) parse(r *http.Request) (wfs.Request, error) {
	if r.Method != http.MethodPost {
		return wfs.ParseKVP(r.URL.Query(), h.parser)
	}
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, h.maxBody))
	if err != nil {
		return nil, bodyError(err)
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, ows.Parsing("", "Invalid form encoded request: %v.", err)
		}
		return wfs.ParseKVP(values, h.parser)
	}
	return wfs.ParseXML(bytes.NewReader(raw), h.parser)
}

func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return ows.InvalidParameter("", "Request body exceeds %d bytes.", mbe.Limit)
	}
	return ows.Parsing("", "Unable to read request body: %v.", err)
}

func (h *handler) serve(ctx context.Context, w *statusWriter, r *http.Request, req wfs.Request) error {
	switch req := req.(type) {
	case *wfs.GetFeature:
		return h.getFeature(ctx, w, r, req)
	case *wfs.DescribeFeatureType:
		if err := wfs.CheckSchemaFormat(req.OutputFormat); err != nil {
			return err
		}
		types, err := h.svc.DescribeFeatureType(ctx, req)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := wfs.WriteSchema(&buf, h.svc.Catalog, types); err != nil {
			return ows.Internal(err)
		}
		return writeDocument(w, wfs.SchemaContentType, buf.Bytes())
	case *wfs.ListStoredQueries:
		var buf bytes.Buffer
		if err := wfs.WriteStoredQueries(&buf, h.svc.Catalog, h.svc.StoredQueries.All()); err != nil {
			return ows.Internal(err)
		}
		return writeDocument(w, "application/xml; charset=utf-8", buf.Bytes())
	}
	return ows.NotSupported("request", "This request type is not supported by this server.")
}

func writeDocument(w http.ResponseWriter, contentType string, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	// the client went away if this fails, there is nobody left to tell
	_, _ = w.Write(body)
	return nil
}

func (h *handler) getFeature(ctx context.Context, w *statusWriter, r *http.Request, req *wfs.GetFeature) error {
	format, ok := render.Negotiate(req.OutputFormat, r.Header.Get("Accept"))
	if !ok {
		return ows.InvalidParameter("outputFormat", "Unsupported output format '%s'.", req.OutputFormat)
	}
	var reqURL *url.URL
	if r.Method == http.MethodGet {
		reqURL = requestURL(r)
	}
	out, err := h.svc.GetFeature(ctx, req, format, reqURL)
	if err != nil {
		return err
	}
	lw := &lazyWriter{w: w, start: func() {
		w.Header().Set("Content-Type", format.ContentType())
		if len(out.Parts) > 0 {
			w.Header().Set("Content-Disposition",
				fmt.Sprintf(`inline; filename="%s.%s"`, out.Parts[0].Type.Name, format.Extension()))
		}
	}}
	return render.New(format, h.logger).Render(ctx, lw, out)
}

// requestURL rebuilds the absolute URL the client used.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		u.Scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return &u
}

type statusWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.code = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// lazyWriter sets the response headers on the first write, so a failure
// before any output can still become an exception report.
type lazyWriter struct {
	w       http.ResponseWriter
	start   func()
	started bool
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	if !l.started {
		l.started = true
		l.start()
	}
	return l.w.Write(p)
}
