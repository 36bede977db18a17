// Package gateway предоставляет клиент платёжного шлюза easypay.
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/easypay-reconciler/internal/codec"
	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

const (
	// BaseURL — адрес боевого окружения шлюза.
	BaseURL = "https://www.easypay.pt/_s/"
	// BaseURLTest — адрес тестового окружения, пароль передаётся без шифрования.
	BaseURLTest = "http://test.easypay.pt/_s/"

	// StatusOK — значение ep_status успешного ответа.
	StatusOK = "ok0"

	EndpointGenerateMB = "api_easypay_01BG.php"
	EndpointDetailsMB  = "api_easypay_03AG.php"

	defaultStatus  = "err1"
	defaultMessage = "no message defined"
)

// Config содержит параметры учётной записи шлюза.
type Config struct {
	Production bool
	// BaseURL переопределяет адрес шлюза, выбранный по флагу Production.
	BaseURL  string
	Username string
	Password string
	CIN      string
	Entity   string
}

// Client строит запросы к шлюзу и разбирает его ответы.
type Client struct {
	baseURL   string
	username  string
	password  string
	cin       string
	entity    string
	transport Transport
}

// NewClient создаёт клиент шлюза с указанным транспортом.
func NewClient(cfg Config, transport Transport) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = BaseURLTest
		if cfg.Production {
			base = BaseURL
		}
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return &Client{
		baseURL:   base,
		username:  cfg.Username,
		password:  cfg.Password,
		cin:       cfg.CIN,
		entity:    cfg.Entity,
		transport: transport,
	}
}

// BaseURL возвращает адрес шлюза, с которым работает клиент.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CIN возвращает идентификатор клиента шлюза.
func (c *Client) CIN() string {
	return c.cin
}

// Username возвращает имя пользователя шлюза.
func (c *Client) Username() string {
	return c.username
}

// Request выполняет запрос к указанному методу шлюза, добавляя данные авторизации,
// и возвращает разобранный ответ. Ответ со статусом, отличным от ok0, превращается в GatewayError.
func (c *Client) Request(ctx context.Context, endpoint string, params map[string]string) (map[string]string, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	if c.cin != "" {
		values.Set("ep_cin", c.cin)
	}
	if c.username != "" {
		values.Set("ep_user", c.username)
	}

	body, err := c.transport.Get(ctx, c.baseURL+endpoint, values)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	result, err := codec.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	status, ok := result["ep_status"]
	if !ok {
		status = defaultStatus
	}
	if status != StatusOK {
		message, ok := result["ep_message"]
		if !ok {
			message = defaultMessage
		}
		return nil, &GatewayError{Message: message}
	}

	return result, nil
}

// Validate проверяет, что непустые cin и username совпадают с настроенной учётной записью.
func (c *Client) Validate(cin, username string) error {
	if cin != "" && cin != c.cin {
		return &SecurityError{Message: "invalid cin"}
	}
	if username != "" && username != c.username {
		return &SecurityError{Message: "invalid username"}
	}
	return nil
}

// GenerateMB запрашивает у шлюза новую референцию Multibanco на указанную сумму.
func (c *Client) GenerateMB(ctx context.Context, identifier string, amount decimal.Decimal) (map[string]string, error) {
	params := map[string]string{
		"ep_entity":   c.entity,
		"ep_ref_type": "auto",
		"ep_country":  "PT",
		"ep_language": "PT",
		"t_value":     amount.StringFixed(2),
		"t_key":       identifier,
	}
	if c.password != "" {
		params["s_code"] = c.password
	}

	return c.Request(ctx, EndpointGenerateMB, params)
}

// DetailsMB запрашивает детали платежа по документу.
func (c *Client) DetailsMB(ctx context.Context, doc model.Document) (map[string]string, error) {
	return c.Request(ctx, EndpointDetailsMB, map[string]string{
		"ep_doc": doc.Identifier,
		"ep_key": doc.Key,
	})
}
