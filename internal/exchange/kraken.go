package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"arbsim/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// KrakenFutures - клиент живой биржи
// ============================================================
//
// Скелет клиента Kraken Futures. В торговой логике симуляции НЕ
// участвует: ядро работает только с MarginSimulator. Клиент оставлен
// для подачи живых тиков в брокер и для ручной сверки цен.

// Базовые URL Kraken Futures
const (
	krakenFuturesURL        = "https://futures.kraken.com"
	krakenFuturesSandboxURL = "https://demo-futures.kraken.com"
	krakenFuturesWSURL      = "wss://futures.kraken.com/ws/v1"
)

// KrakenTicker - тикер инструмента Kraken Futures
type KrakenTicker struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Vol24h float64 `json:"vol24h"`
}

// KrakenFutures - REST/WS клиент Kraken Futures
type KrakenFutures struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *HTTPClient

	wsConn *websocket.Conn
}

// NewKrakenFutures создаёт клиент. sandbox переключает на demo контур.
func NewKrakenFutures(apiKey, apiSecret string, sandbox bool) *KrakenFutures {
	baseURL := krakenFuturesURL
	if sandbox {
		baseURL = krakenFuturesSandboxURL
	}
	return &KrakenFutures{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		http:      GetGlobalHTTPClient(),
	}
}

// sign строит подпись приватного запроса:
// HMAC-SHA512(secret, endpoint + SHA256(nonce + postData)), base64
func (k *KrakenFutures) sign(endpoint, postData, nonce string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(k.apiSecret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}

	digest := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(endpoint))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// GetTickers запрашивает тикеры всех инструментов
func (k *KrakenFutures) GetTickers(ctx context.Context) ([]KrakenTicker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		k.baseURL+"/derivatives/api/v3/tickers", nil)
	if err != nil {
		return nil, err
	}

	resp, err := k.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kraken tickers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kraken tickers: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Result  string         `json:"result"`
		Tickers []KrakenTicker `json:"tickers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("kraken tickers: decode: %w", err)
	}
	return payload.Tickers, nil
}

// PlaceOrder отправляет рыночный ордер.
// size - объём в контрактах, side - "buy"/"sell".
func (k *KrakenFutures) PlaceOrder(ctx context.Context, symbol, side string, size float64) error {
	endpoint := "/derivatives/api/v3/sendorder"
	nonce := strconv.FormatInt(time.Now().UnixMilli(), 10)
	postData := fmt.Sprintf("orderType=mkt&symbol=%s&side=%s&size=%s",
		symbol, side, strconv.FormatFloat(size, 'f', -1, 64))

	signature, err := k.sign(endpoint, postData, nonce)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.baseURL+endpoint, strings.NewReader(postData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("APIKey", k.apiKey)
	req.Header.Set("Nonce", nonce)
	req.Header.Set("Authent", signature)

	resp, err := k.http.Do(req)
	if err != nil {
		return fmt.Errorf("kraken sendorder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("kraken sendorder: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// SubscribeTicker подписывается на тикеры через WebSocket и шлёт их
// в callback до отмены контекста
func (k *KrakenFutures) SubscribeTicker(ctx context.Context, symbols []string, callback func(*models.Tick)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, krakenFuturesWSURL, nil)
	if err != nil {
		return fmt.Errorf("kraken ws dial: %w", err)
	}
	k.wsConn = conn

	sub := map[string]interface{}{
		"event":       "subscribe",
		"feed":        "ticker",
		"product_ids": symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("kraken ws subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg struct {
			Feed      string  `json:"feed"`
			ProductID string  `json:"product_id"`
			Last      float64 `json:"last"`
			Time      int64   `json:"time"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kraken ws read: %w", err)
		}
		if msg.Feed != "ticker" || msg.Last == 0 {
			continue
		}
		callback(&models.Tick{
			Timestamp:    msg.Time,
			Exchange:     "kraken",
			InstrumentID: msg.ProductID,
			Price:        msg.Last,
		})
	}
}

// Close закрывает WebSocket соединение
func (k *KrakenFutures) Close() error {
	if k.wsConn != nil {
		return k.wsConn.Close()
	}
	return nil
}
