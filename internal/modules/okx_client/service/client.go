package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trade_ledger/internal/exchange"
	"trade_ledger/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	Name = "okx"

	defaultBaseURL = "https://www.okx.com"
	pageSize       = 100
	maxPages       = 50
	timeLayout     = "2006-01-02T15:04:05.000Z"
)

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	Timeout    time.Duration
}

// Client адаптер OKX v5 (USDT-SWAP).
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	log       *zap.Logger
	now       func() time.Time
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		passph:    cfg.Passphrase,
		log:       log.Named("okx"),
		now:       time.Now,
	}
}

func (c *Client) Name() string { return Name }

// sign base64(HMAC-SHA256(secret, ts + METHOD + requestPath + body)).
func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// get выполняет подписанный GET и возвращает сырые элементы data[].
func (c *Client) get(ctx context.Context, path string, query url.Values) (_ []json.RawMessage, err error) {
	span, ctx := tracing.Start(ctx, "okx.request", opentracing.Tag{Key: "path", Value: path})
	defer func() { tracing.Finish(span, err) }()

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	ts := c.now().UTC().Format(timeLayout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "okx: new request")
	}
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, http.MethodGet, requestPath, ""))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, exchange.TransportError(Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exchange.TransportError(Name, err)
	}

	var env envelope
	decodeErr := sonic.Unmarshal(body, &env)

	if resp.StatusCode/100 != 2 {
		apiErr := &exchange.APIError{
			Exchange:   Name,
			HTTPStatus: resp.StatusCode,
			Message:    string(body),
			Kind:       exchange.ClassifyStatus(resp.StatusCode),
		}
		if decodeErr == nil && env.Code != "" {
			apiErr.Code, apiErr.Message = env.Code, env.Msg
			if kind := classifyCode(env.Code); kind != nil {
				apiErr.Kind = kind
			}
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, errors.Wrapf(decodeErr, "okx %s: decode", path)
	}
	if env.Code != "0" {
		return nil, &exchange.APIError{
			Exchange:   Name,
			HTTPStatus: resp.StatusCode,
			Code:       env.Code,
			Message:    env.Msg,
			Kind:       classifyCode(env.Code),
		}
	}

	var rows []json.RawMessage
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := sonic.Unmarshal(env.Data, &rows); err != nil {
			return nil, errors.Wrapf(err, "okx %s: decode data", path)
		}
	}
	return rows, nil
}

// classifyCode коды OKX: 501xx авторизация, 500xx перегрузка.
func classifyCode(code string) error {
	switch code {
	case "50100", "50101", "50102", "50103", "50104", "50105",
		"50111", "50112", "50113", "50114":
		return exchange.ErrAuthentication
	case "50001", "50004", "50011", "50013", "50026", "50061":
		return exchange.ErrTransient
	}
	return nil
}

func decodeRows[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := sonic.Unmarshal(r, &v); err != nil {
			return nil, errors.Wrap(err, "okx: decode row")
		}
		out = append(out, v)
	}
	return out, nil
}
