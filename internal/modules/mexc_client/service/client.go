package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"trade_ledger/internal/exchange"
	"trade_ledger/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	Name = "mexc"

	defaultBaseURL = "https://contract.mexc.com"
	pageSize       = 100
	maxPages       = 50
)

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client адаптер фьючерсов MEXC (contract API v1).
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	log       *zap.Logger
	now       func() time.Time

	mu            sync.RWMutex
	contractSizes map[string]decimal.Decimal
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
		http:          &http.Client{Timeout: cfg.Timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		log:           log.Named("mexc"),
		now:           time.Now,
		contractSizes: make(map[string]decimal.Decimal),
	}
}

func (m *Client) Name() string { return Name }

// sign hex(HMAC-SHA256(secret, apiKey + reqTime + paramString)).
func (m *Client) sign(reqTime, paramString string) string {
	h := hmac.New(sha256.New, []byte(m.apiSecret))
	h.Write([]byte(m.apiKey + reqTime + paramString))
	return hex.EncodeToString(h.Sum(nil))
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// get подписанный GET. Параметры сортируются по ключу и склеиваются через &,
// ровно эта строка и подписывается.
func (m *Client) get(ctx context.Context, path string, query url.Values) (_ json.RawMessage, err error) {
	span, ctx := tracing.Start(ctx, "mexc.request", opentracing.Tag{Key: "path", Value: path})
	defer func() { tracing.Finish(span, err) }()

	paramStr := query.Encode()
	target := m.baseURL + path
	if paramStr != "" {
		target += "?" + paramStr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "mexc: new request")
	}
	reqTime := strconv.FormatInt(m.now().UTC().UnixMilli(), 10)
	req.Header.Set("ApiKey", m.apiKey)
	req.Header.Set("Request-Time", reqTime)
	req.Header.Set("Signature", m.sign(reqTime, paramStr))
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
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
		if decodeErr == nil && env.Code != 0 {
			apiErr.Code, apiErr.Message = strconv.Itoa(env.Code), env.Message
			if kind := classifyCode(env.Code); kind != nil {
				apiErr.Kind = kind
			}
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, errors.Wrapf(decodeErr, "mexc %s: decode", path)
	}
	if !env.Success {
		return nil, &exchange.APIError{
			Exchange:   Name,
			HTTPStatus: resp.StatusCode,
			Code:       strconv.Itoa(env.Code),
			Message:    env.Message,
			Kind:       classifyCode(env.Code),
		}
	}
	return env.Data, nil
}

func classifyCode(code int) error {
	switch code {
	case 401, 402, 403, 602:
		return exchange.ErrAuthentication
	case 500, 501, 510, 9999:
		return exchange.ErrTransient
	}
	return nil
}

// list разбирает data как массив; часть эндпоинтов кладёт его в resultList.
func list[T any](data json.RawMessage) ([]T, []json.RawMessage, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil, nil
	}
	var raw []json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		var wrapped struct {
			ResultList []json.RawMessage `json:"resultList"`
		}
		if err2 := sonic.Unmarshal(data, &wrapped); err2 != nil {
			return nil, nil, errors.Wrap(err, "mexc: unexpected data shape")
		}
		raw = wrapped.ResultList
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := sonic.Unmarshal(r, &v); err != nil {
			return nil, nil, errors.Wrap(err, "mexc: decode row")
		}
		out = append(out, v)
	}
	return out, raw, nil
}

// pageQuery добавляет page_num/page_size; курсор это номер страницы.
func pageQuery(q url.Values, cursor string) (url.Values, int) {
	page := 1
	if cursor != "" {
		if p, err := strconv.Atoi(cursor); err == nil && p > 0 {
			page = p
		}
	}
	q.Set("page_num", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	return q, page
}
