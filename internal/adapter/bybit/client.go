package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradeflow/models"
)

const (
	defaultRestURL = "https://api.bybit.com"
	recvWindow     = "5000"
)

// apiResponse is the v5 envelope around every REST payload.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// client is a minimal v5 REST client. Signed requests carry the HMAC-SHA256
// of timestamp + api key + recv window + payload in the X-BAPI headers.
type client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
}

func newClient(apiKey, apiSecret, baseURL string, proxies []string, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = defaultRestURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:           proxyFunc(proxies),
				MaxIdleConns:    16,
				MaxConnsPerHost: 16,
				IdleConnTimeout: 90 * time.Second,
			},
			Timeout: timeout,
		},
	}
}

// proxyFunc routes REST calls through the first usable proxy entry. An empty
// or unusable list keeps the environment default.
func proxyFunc(proxies []string) func(*http.Request) (*url.URL, error) {
	for _, raw := range proxies {
		u, err := url.Parse(raw)
		if err == nil && u.Scheme != "" {
			return http.ProxyURL(u)
		}
	}
	return http.ProxyFromEnvironment
}

func (c *client) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(timestamp + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// get performs a GET request; signed when the endpoint needs credentials.
func (c *client) get(ctx context.Context, path string, query url.Values, signed bool, result interface{}) error {
	encoded := query.Encode()
	u := c.baseURL + path
	if encoded != "" {
		u += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if signed {
		c.authorize(req, encoded)
	}
	return c.do(req, result)
}

// post performs a signed POST with a JSON body.
func (c *client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, string(payload))
	return c.do(req, result)
}

func (c *client) authorize(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
}

func (c *client) do(req *http.Request, result interface{}) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", res.StatusCode, string(raw))
	}
	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.RetCode != 0 {
		return apiError(env.RetCode, env.RetMsg)
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// apiError keeps the numeric code in the message so the shared rate-limit
// and order-gone classifiers can match on it.
func apiError(code int, msg string) error {
	err := fmt.Errorf("bybit %d: %s", code, msg)
	switch code {
	case 10003, 10004, 10005: // bad key, bad signature, no permission
		return &models.ExchangeError{Txt: err.Error(), Exchange: Name, Permanent: true}
	}
	return err
}
