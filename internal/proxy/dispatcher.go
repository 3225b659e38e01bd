package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/pkg/middleware"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// hopHeaders は転送しないホップバイホップヘッダー。
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Options は Dispatcher の設定。
type Options struct {
	// PrivateNetwork がtrueの場合、内部アドレスを優先する。
	PrivateNetwork bool
	// Timeout は1回の転送に許す最大時間。
	Timeout time.Duration
	// ForwardCookies がtrueの場合、Cookieヘッダーを転送する。
	ForwardCookies bool
	// ForwardAuthorization がtrueの場合、Authorizationヘッダーを転送する。
	ForwardAuthorization bool
	// MaxBodyBytes はリクエストボディの上限。
	MaxBodyBytes int64
	// CORS はレスポンスに付与するCORSヘッダーのポリシー。
	CORS *middleware.CORSPolicy
	// Transport はテストでRoundTripperを差し替えるために使う。
	Transport http.RoundTripper
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Response は転送結果。バックエンドのステータスとボディを保持する。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Upstream は応答したアドレス。転送していない場合は空。
	Upstream string
}

// Write はレスポンスをwに書き込む。
func (r *Response) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, v := range r.Header {
		h[k] = v
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// Handler は1つのリソースに対するメソッドごとの転送を表す。
type Handler interface {
	Handle(verb string, req *http.Request) *Response
}

// Dispatcher は1つの Route へリクエストを転送する。
type Dispatcher struct {
	route  Route
	opts   Options
	client *http.Client
	logger *zap.Logger
}

var _ Handler = (*Dispatcher)(nil)

// NewDispatcher は新しい Dispatcher を生成する。
func NewDispatcher(route Route, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Dispatcher{
		route: route,
		opts:  opts,
		client: &http.Client{
			Transport: transport,
			// リダイレクトもバックエンドの応答としてそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With(zap.String("route", route.Name)),
	}
}

// Route は転送先の設定を返す。
func (d *Dispatcher) Route() Route {
	return d.route
}

// Handle はリクエストをバックエンドへ転送し、結果を返す。
//
// 内部アドレスへの接続自体に失敗した場合のみ、公開アドレスへ1回だけ転送し直す。
// バックエンドが応答した場合はステータスに関わらずその応答を返す。
func (d *Dispatcher) Handle(verb string, req *http.Request) *Response {
	origin := req.Header.Get("Origin")
	if verb == http.MethodOptions {
		return d.finish(verb, origin, &Response{StatusCode: http.StatusOK, Header: http.Header{}})
	}

	body, err := readBody(req.Body, d.opts.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return d.finish(verb, origin, errorResponse(http.StatusRequestEntityTooLarge, err.Error(), ""))
		}
		return d.finish(verb, origin, errorResponse(http.StatusBadRequest, "リクエストボディの読み取りに失敗しました", ""))
	}

	targets := d.route.targets(d.opts.PrivateNetwork)
	if len(targets) == 0 {
		d.logger.Error("転送先が設定されていません")
		return d.finish(verb, origin, errorResponse(http.StatusBadGateway, ErrNoUpstream.Error(), ""))
	}

	var lastErr error
	for i, target := range targets {
		if i > 0 {
			d.opts.Metrics.fallbacks.WithLabelValues(d.route.Name).Inc()
			d.logger.Warn("内部アドレスに接続できないため公開アドレスへ転送します",
				zap.String("upstream", target),
				zap.Error(lastErr),
			)
		}

		resp, err := d.forward(verb, req, body, target)
		if err == nil {
			return d.finish(verb, origin, resp)
		}
		lastErr = &UpstreamError{Route: d.route.Name, Upstream: target, Cause: err}

		if !unreachable(err) {
			d.logger.Error("転送に失敗しました", zap.String("upstream", target), zap.Error(err))
			status := http.StatusBadGateway
			if timedOut(err) {
				status = http.StatusGatewayTimeout
			}
			return d.finish(verb, origin, errorResponse(status, "バックエンドとの通信に失敗しました", target))
		}
	}

	upstream := targets[len(targets)-1]
	d.logger.Error("バックエンドに接続できません", zap.String("upstream", upstream), zap.Error(lastErr))
	return d.finish(verb, origin, errorResponse(http.StatusBadGateway, ErrUpstreamUnavailable.Error(), upstream))
}

// forward は1つのアドレスへ1回だけ転送する。
func (d *Dispatcher) forward(verb string, in *http.Request, body []byte, base string) (*Response, error) {
	ctx, cancel := context.WithTimeout(in.Context(), d.opts.Timeout)
	defer cancel()

	out, err := http.NewRequestWithContext(ctx, verb, d.targetURL(base, in), bodyReader(body))
	if err != nil {
		return nil, err
	}
	d.copyRequestHeaders(out, in)

	start := time.Now()
	resp, err := d.client.Do(out)
	d.opts.Metrics.duration.WithLabelValues(d.route.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Del("Content-Length")
	for k := range header {
		if strings.HasPrefix(k, "Access-Control-") {
			header.Del(k)
		}
	}

	if resp.StatusCode >= http.StatusInternalServerError && len(bytes.TrimSpace(respBody)) == 0 {
		synthesized := errorResponse(resp.StatusCode, http.StatusText(resp.StatusCode), base)
		synthesized.Upstream = base
		return synthesized, nil
	}
	return &Response{StatusCode: resp.StatusCode, Header: header, Body: respBody, Upstream: base}, nil
}

// targetURL はアドレスに接頭辞を除いた残りのパスとクエリを付けたURLを返す。
func (d *Dispatcher) targetURL(base string, in *http.Request) string {
	rest := strings.TrimPrefix(in.URL.EscapedPath(), d.route.PathPrefix)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	target := base + rest
	if in.URL.RawQuery != "" {
		target += "?" + in.URL.RawQuery
	}
	return target
}

func (d *Dispatcher) copyRequestHeaders(out, in *http.Request) {
	out.Header = in.Header.Clone()
	removeHopHeaders(out.Header)
	out.Header.Del("Content-Length")
	if !d.opts.ForwardCookies {
		out.Header.Del("Cookie")
	}
	if !d.opts.ForwardAuthorization {
		out.Header.Del("Authorization")
	}

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	if in.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	if in.Host != "" {
		out.Header.Set("X-Forwarded-Host", in.Host)
	}
}

// finish はCORSヘッダーを付与し、メトリクスを記録する。
func (d *Dispatcher) finish(verb, origin string, resp *Response) *Response {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if d.opts.CORS != nil {
		d.opts.CORS.Apply(resp.Header, origin)
	}
	d.opts.Metrics.requests.WithLabelValues(d.route.Name, verb, strconv.Itoa(resp.StatusCode)).Inc()
	return resp
}

// removeHopHeaders はホップバイホップヘッダーと Connection で指定されたヘッダーを取り除く。
func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func readBody(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}
	defer body.Close()

	b, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrBodyTooLarge
	}
	return b, nil
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return http.NoBody
	}
	return bytes.NewReader(body)
}

// errorResponse は {error, upstream} 形式のJSONボディを持つレスポンスを生成する。
func errorResponse(status int, message, upstream string) *Response {
	body, _ := json.Marshal(map[string]string{
		"error":    message,
		"upstream": upstream,
	})
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=utf-8")
	return &Response{StatusCode: status, Header: h, Body: body}
}
