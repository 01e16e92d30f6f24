package bank

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	tokenRefreshPeriod  = 10 * time.Minute
	authenticatePath    = "/api/v1/partner/authenticate"
	findTransactionPath = "/api/v1/statement/find"
)

// minorUnitExponent — число знаков после запятой в валюте счёта.
// Суммы в выписке шлюза приходят в основных единицах (decimal),
// внутри системы хранятся в минорных (int64).
const minorUnitExponent = 2

// Config описывает подключение к платёжному шлюзу.
type Config struct {
	BaseURL       string
	PartnerID     string
	ClientID      string
	ClientSecret  string
	HMACKey       string
	AccountNumber string
	BankName      string
}

// Client — HTTP-клиент платёжного шлюза. Запросы подписываются HMAC-SHA256,
// access token продлевается фоновым refresher-ом.
type Client struct {
	baseURL       string
	partnerID     string
	clientID      string
	clientSecret  string
	hmacKey       string
	accountNumber string
	bankName      string

	mu          sync.Mutex
	accessToken string

	// toggleTokenRefresher будит refresher при ответе 401 от шлюза.
	toggleTokenRefresher chan struct{}

	hc     *http.Client
	logger *log.Entry
}

// NewClient создаёт клиент шлюза, выполняет первичную аутентификацию
// и запускает фоновое продление токена до отмены ctx.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{
		baseURL:       cfg.BaseURL,
		partnerID:     cfg.PartnerID,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		hmacKey:       cfg.HMACKey,
		accountNumber: cfg.AccountNumber,
		bankName:      cfg.BankName,

		// Буфер на один сигнал, чтобы не блокировать вызывающих.
		toggleTokenRefresher: make(chan struct{}, 1),

		hc:     &http.Client{Timeout: defaultHTTPTimeout},
		logger: log.WithField("component", "bank-gateway"),
	}

	token, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate with gateway: %w", err)
	}
	c.setAccessToken(token)

	go c.refreshTokenLoop(ctx)

	return c, nil
}

// FindTransaction ищет в выписке шлюза транзакцию с указанным референсом.
// Совпадение засчитывается только при точном равенстве суммы.
func (c *Client) FindTransaction(ctx context.Context, reference string, amountMinor int64) (domain.GatewayTransaction, bool, error) {
	requestID, err := randomRequestID()
	if err != nil {
		return domain.GatewayTransaction{}, false, fmt.Errorf("find transaction: request id: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"partnerId":%q,"billNumber":%q}`, requestID, c.partnerID, reference)
	resp, err := c.signedPost(ctx, findTransactionPath, body)
	if err != nil {
		return domain.GatewayTransaction{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.toggleRefresher()
		return domain.GatewayTransaction{}, false, domain.ErrGatewayUnavailable
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.GatewayTransaction{}, false, domain.ErrGatewayUnavailable
	}

	var reply struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Data    payload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return domain.GatewayTransaction{}, false, fmt.Errorf("find transaction: decode reply: %w", err)
	}

	switch reply.Status {
	case "OK":
	case "NOT_FOUND":
		return domain.GatewayTransaction{}, false, nil
	default:
		return domain.GatewayTransaction{}, false, fmt.Errorf("find transaction: status %s: %s", reply.Status, reply.Message)
	}

	tx, err := reply.Data.toDomain()
	if err != nil {
		return domain.GatewayTransaction{}, false, fmt.Errorf("find transaction: payload: %w", err)
	}
	if tx.AmountMinor != amountMinor {
		c.logger.WithFields(log.Fields{
			"reference": reference,
			"expected":  amountMinor,
			"actual":    tx.AmountMinor,
		}).Warn("statement amount mismatch")
		return domain.GatewayTransaction{}, false, nil
	}

	return tx, true, nil
}

// AccountDetails возвращает реквизиты для перевода.
func (c *Client) AccountDetails() domain.BankAccount {
	return domain.BankAccount{
		AccountNumber: c.accountNumber,
		BankName:      c.bankName,
	}
}

// payload — строка выписки в формате шлюза.
type payload struct {
	RefID         string          `json:"refNo"`
	Reference     string          `json:"billNumber"`
	Payer         string          `json:"sourceName"`
	AccountNumber string          `json:"sourceAccount"`
	Amount        decimal.Decimal `json:"txnAmount"`
	CreatedAt     string          `json:"txnDateTime"`
}

func (p *payload) toDomain() (domain.GatewayTransaction, error) {
	paidAt, err := time.Parse("2006-01-02 15:04:05", p.CreatedAt)
	if err != nil {
		return domain.GatewayTransaction{}, err
	}

	return domain.GatewayTransaction{
		Reference:   p.Reference,
		AmountMinor: p.Amount.Shift(minorUnitExponent).IntPart(),
		ExternalID:  p.RefID,
		PaidAt:      paidAt,
	}, nil
}

// connect выполняет аутентификацию и возвращает access token вида "Bearer ...".
func (c *Client) connect(ctx context.Context) (string, error) {
	requestID, err := randomRequestID()
	if err != nil {
		return "", fmt.Errorf("connect: request id: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"partnerId":%q,"clientId":%q,"clientSecret":%q}`,
		requestID, c.partnerID, c.clientID, c.clientSecret)

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("connect: parse base url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String()+authenticatePath, bytes.NewReader([]byte(body)))
	if err != nil {
		return "", fmt.Errorf("connect: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", hmac256([]byte(body), []byte(c.hmacKey)))

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("connect: unexpected status %d", resp.StatusCode)
	}

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("connect: decode reply: %w", err)
	}
	if reply.Status != "OK" {
		return "", fmt.Errorf("connect: status %s: %s", reply.Status, reply.Message)
	}

	return reply.Data.TokenType + " " + reply.Data.AccessToken, nil
}

// refreshTokenLoop продлевает access token по таймеру и по сигналу 401,
// с exponential backoff при недоступном шлюзе.
func (c *Client) refreshTokenLoop(ctx context.Context) {
	ticker := time.NewTicker(tokenRefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.toggleTokenRefresher:
			c.logger.Info("token refresh requested after unauthorized response")
		}

		backOff := time.Second
		for {
			token, err := c.connect(ctx)
			if err == nil {
				c.setAccessToken(token)
				break
			}

			c.logger.WithError(err).Warn("token refresh failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backOff):
				backOff *= 2
			}
		}
	}
}

func (c *Client) signedPost(ctx context.Context, path, body string) (*http.Response, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String()+path, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", hmac256([]byte(body), []byte(c.hmacKey)))
	req.Header.Set("Authorization", c.getAccessToken())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Join(domain.ErrGatewayUnavailable, err)
	}
	return resp, nil
}

func (c *Client) setAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) toggleRefresher() {
	select {
	case c.toggleTokenRefresher <- struct{}{}:
	default:
	}
}

// hmac256 подписывает тело запроса ключом шлюза.
func hmac256(body, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func randomRequestID() (string, error) {
	min := big.NewInt(100000000000000000)
	max := big.NewInt(999999999999999999)
	n, err := rand.Int(rand.Reader, new(big.Int).Sub(max, min))
	if err != nil {
		return "", err
	}
	n.Add(n, min)
	return n.String(), nil
}

var _ domain.SettlementGateway = (*Client)(nil)
