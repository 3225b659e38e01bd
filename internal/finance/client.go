// Package finance は外部財務API（台帳/ERP）から参照データを取得するクライアントを提供する。
//
// APIはテーブル名ごとのGETエンドポイントで、フィルタ式と件数制限を受け取りJSON配列を返す。
// すべての呼び出しに静的APIキーヘッダーを付与する。
package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nao1215/fleetgate/pkg/httpclient"
)

// DefaultPageSize はページサイズ未指定時の取得件数。
const DefaultPageSize = 500

var (
	// ErrAPIKeyMissing はAPIキーが設定されていないことを表す。
	ErrAPIKeyMissing = errors.New("財務APIのAPIキーが設定されていません")
	// ErrBaseURLMissing はベースURLが設定されていないことを表す。
	ErrBaseURLMissing = errors.New("財務APIのベースURLが設定されていません")
)

// Record は外部APIが返す1レコード。中身は解釈せず、受け取ったJSONをそのまま保持する。
type Record struct {
	fields map[string]any
	raw    json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
// 数値は json.Number として読み込み、2^53を超える整数IDも桁を失わない。
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return err
	}
	r.fields = fields
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw は外部APIが返したレコードのJSONをそのまま返す。
func (r Record) Raw() json.RawMessage {
	return r.raw
}

// ID はfieldの値を外部IDとして文字列で返す。値がない場合は空文字を返す。
func (r Record) ID(field string) string {
	switch v := r.fields[field].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Config は財務APIクライアントの設定。
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	// Transport はテストでRoundTripperを差し替えるために使う。
	Transport http.RoundTripper
}

// Client は財務APIクライアント。
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

// New は財務APIクライアントを生成する。APIキーが空でも生成できるが、取得時にエラーになる。
func New(cfg Config) *Client {
	header := cfg.APIKeyHeader
	if header == "" {
		header = "X-Api-Key"
	}
	opts := []httpclient.Option{httpclient.WithHeader(header, cfg.APIKey)}
	if cfg.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(cfg.Timeout))
	}
	if cfg.Transport != nil {
		opts = append(opts, httpclient.WithTransport(cfg.Transport))
	}
	return &Client{
		http:    httpclient.New(cfg.BaseURL, opts...),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Ready は取得を開始できる状態かを返す。
func (c *Client) Ready() error {
	if c.apiKey == "" {
		return ErrAPIKeyMissing
	}
	if c.baseURL == "" {
		return ErrBaseURLMissing
	}
	return nil
}

// FetchPage はテーブルから1ページ分のレコードを取得する。
func (c *Client) FetchPage(ctx context.Context, table string, q Query) ([]Record, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	var page []Record
	if err := c.http.GetJSON(ctx, "/"+url.PathEscape(table), q.Values(), &page); err != nil {
		return nil, fmt.Errorf("%sの取得に失敗 (offset=%d): %w", table, q.Offset, err)
	}
	return page, nil
}

// FetchAll はページサイズより短いページが返るまで取得を繰り返し、ページごとにfnを呼ぶ。
// fnまたは取得がエラーを返した時点で中断し、それまでに取得した件数を返す。
func (c *Client) FetchAll(ctx context.Context, table string, filters []Filter, pageSize int, fn func([]Record) error) (int, error) {
	if err := c.Ready(); err != nil {
		return 0, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	total := 0
	for offset := 0; ; offset += pageSize {
		page, err := c.FetchPage(ctx, table, Query{Filters: filters, Limit: pageSize, Offset: offset})
		if err != nil {
			return total, err
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return total, err
			}
			total += len(page)
		}
		if len(page) < pageSize {
			return total, nil
		}
	}
}
