// Package bitrix клиент входящего вебхука Bitrix24: универсальный RPC-вызов,
// две стратегии загрузки файлов на диск и создание задачи.
//
// Клиент никогда не повторяет запросы сам, повторами управляет вызывающий код.
package bitrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	maxConnectTimeout = 20 * time.Second
	maxConns          = 50
	maxIdleConns      = 20
	keepAlive         = 30 * time.Second
	idleConnTimeout   = 90 * time.Second
)

// Field пара ключ-значение формы. Порядок полей сохраняется.
type Field struct {
	Key   string
	Value string
}

func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

func encodeFields(fields []Field) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(f.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.Value))
	}
	return sb.String()
}

// Timeouts независимые таймауты одного запроса.
type Timeouts struct {
	Connect time.Duration // установка соединения и TLS
	Read    time.Duration // каждое чтение из сокета
	Write   time.Duration // каждая запись в сокет
	Pool    time.Duration // ожидание свободного соединения
}

// TimeoutsFor выводит таймауты запроса из общего таймаута t.
func TimeoutsFor(t time.Duration) Timeouts {
	return Timeouts{
		Connect: min(maxConnectTimeout, t),
		Read:    t,
		Write:   t,
		Pool:    min(maxConnectTimeout, t),
	}
}

type Config struct {
	WebhookBase string        // должен заканчиваться на '/'
	Timeout     time.Duration // таймаут обычных вызовов
	RateLimit   float64       // запросов в секунду, 0 - без ограничения
	RateBurst   int
}

type Client struct {
	base    string
	timeout time.Duration
	limiter *rate.Limiter

	mu    sync.Mutex
	pools map[Timeouts]*pool
}

func New(cfg Config) (*Client, error) {
	if !strings.HasSuffix(cfg.WebhookBase, "/") {
		return nil, fmt.Errorf("webhook base must end with '/': %q", cfg.WebhookBase)
	}
	if _, err := url.ParseRequestURI(cfg.WebhookBase); err != nil {
		return nil, fmt.Errorf("invalid webhook base: %w", err)
	}

	c := &Client{
		base:    cfg.WebhookBase,
		timeout: cfg.Timeout,
		pools:   make(map[Timeouts]*pool),
	}
	if c.timeout <= 0 {
		c.timeout = maxConnectTimeout
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.RateBurst))
	}
	return c, nil
}

// DefaultTimeout таймаут, используемый при timeout <= 0.
func (c *Client) DefaultTimeout() time.Duration {
	return c.timeout
}

// Call вызывает метод REST API. Тело ответа должно быть JSON, ответ с ключом
// error возвращается как *RemoteError. Если timeout <= 0, используется таймаут
// клиента.
func (c *Client) Call(ctx context.Context, method string, fields []Field, timeout time.Duration) (Payload, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	body := encodeFields(fields)
	status, resp, err := c.post(ctx, c.base+method, "application/x-www-form-urlencoded", strings.NewReader(body), timeout)
	if err != nil {
		return nil, err
	}

	return decodePayload(status, resp)
}

// post отправляет запрос и читает тело ответа целиком. Слот пула занят до
// конца чтения тела.
func (c *Client) post(ctx context.Context, uri, contentType string, body io.Reader, timeout time.Duration) (int, []byte, error) {
	log := slog.With("op", "bitrix.post", "url", redactURL(uri))

	closeBody := func() {
		if rc, ok := body.(io.Closer); ok {
			rc.Close()
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			closeBody()
			return 0, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	p := c.poolFor(TimeoutsFor(timeout))

	release, err := p.acquire(ctx)
	if err != nil {
		closeBody()
		return 0, nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, body)
	if err != nil {
		closeBody()
		return 0, nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		log.Debug("request failed", "error", err)
		return 0, nil, transportError(ctx, "request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Debug("read body failed", "error", err)
		return 0, nil, transportError(ctx, "read body", err)
	}

	log.Debug("response", "status", resp.StatusCode, "size", len(data))
	return resp.StatusCode, data, nil
}

// transportError отделяет отмену вызывающим от сетевых сбоев: отмена не
// считается транспортной ошибкой и не должна повторяться.
func transportError(ctx context.Context, op string, err error) error {
	// *url.Error печатает адрес запроса вместе с токеном вебхука
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactURL(ue.URL)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &TransportError{Op: op, Err: err}
}

func (c *Client) poolFor(to Timeouts) *pool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[to]
	if !ok {
		p = newPool(to)
		c.pools[to] = p
	}
	return p
}

// CloseIdleConnections закрывает простаивающие соединения всех пулов.
func (c *Client) CloseIdleConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.pools {
		p.client.CloseIdleConnections()
	}
}

// pool http-клиент с фиксированным набором таймаутов и ограничением числа
// одновременно используемых соединений.
type pool struct {
	client   *http.Client
	slots    *semaphore.Weighted
	timeouts Timeouts
}

func newPool(to Timeouts) *pool {
	dialer := &net.Dialer{
		Timeout:   to.Connect,
		KeepAlive: keepAlive,
	}
	return &pool{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					conn, err := dialer.DialContext(ctx, network, addr)
					if err != nil {
						return nil, err
					}
					return &deadlineConn{Conn: conn, read: to.Read, write: to.Write}, nil
				},
				TLSHandshakeTimeout: to.Connect,
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdleConns,
				MaxConnsPerHost:     maxConns,
				IdleConnTimeout:     idleConnTimeout,
			},
		},
		slots:    semaphore.NewWeighted(maxConns),
		timeouts: to,
	}
}

func (p *pool) acquire(ctx context.Context) (func(), error) {
	wait, cancel := context.WithTimeout(ctx, p.timeouts.Pool)
	defer cancel()

	if err := p.slots.Acquire(wait, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("pool wait: %w", ctxErr)
		}
		return nil, &TransportError{Op: "pool wait", Err: poolTimeoutError{p.timeouts.Pool}}
	}
	return func() { p.slots.Release(1) }, nil
}

type poolTimeoutError struct {
	wait time.Duration
}

func (e poolTimeoutError) Error() string {
	return fmt.Sprintf("no free connection within %v: pool timeout", e.wait)
}

func (poolTimeoutError) Timeout() bool   { return true }
func (poolTimeoutError) Temporary() bool { return true }

// deadlineConn ограничивает время каждой отдельной операции чтения и записи.
//
// Транспорт держит чтение открытым, пока соединение простаивает в пуле, и его
// срок отсчитан от начала простоя. Поэтому каждая запись заново взводит срок
// чтения: ответ на запрос получает полный read.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	now := time.Now()
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(now.Add(c.write)); err != nil {
			return 0, err
		}
	}
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(now.Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// redactURL убирает токен вебхука из адреса для логов.
func redactURL(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid url>"
	}
	parts := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(parts) >= 3 && parts[0] == "rest" {
		parts[2] = "***"
	}
	// u.String() экранировал бы '*'
	return u.Scheme + "://" + u.Host + "/" + strings.Join(parts, "/")
}
