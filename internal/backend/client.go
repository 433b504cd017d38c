package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Identity поставляется провайдером аутентификации/сессии и попадает
// в каждый payload выгрузки.
type Identity interface {
	BranchID() string
	TerminalID() string
	SessionID() string
}

// StaticIdentity — идентификаторы из конфига терминала.
type StaticIdentity struct {
	Branch   string
	Terminal string
	Session  string
}

func (s StaticIdentity) BranchID() string   { return s.Branch }
func (s StaticIdentity) TerminalID() string { return s.Terminal }
func (s StaticIdentity) SessionID() string  { return s.Session }

// StatusError — ответ бэкенда вне 2xx (кроме конфликта).
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Code)
}

// Retryable — стоит ли повторять запрос: 5xx да, прочие нет.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}

// Auth — проблема учётных данных, повтор бессмыслен.
func (e *StatusError) Auth() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// ConflictError — 409: у бэкенда уже есть запись с этим заказом.
type ConflictError struct {
	RemoteUpdatedAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("backend conflict, remote updated at %s", e.RemoteUpdatedAt.Format(time.RFC3339))
}

// OrderPayload — один заказ на один запрос.
type OrderPayload struct {
	OrderID    string `json:"order_id"`
	Number     string `json:"number"`
	BranchID   string `json:"branch_id"`
	TerminalID string `json:"terminal_id"`
	SessionID  string `json:"session_id"`

	Category      string    `json:"category"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	Subtotal      float64   `json:"subtotal"`
	Tax           float64   `json:"tax"`
	Discount      float64   `json:"discount"`
	Total         float64   `json:"total"`
	UpdatedAt     time.Time `json:"updated_at"`

	Items []ItemPayload `json:"items"`
}

// ItemPayload — плоская позиция: ссылка на позицию меню, количество
// и свободный текст из заметки, добавок и вариации.
type ItemPayload struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	LineTotal  float64 `json:"line_total"`
	Note       string  `json:"note,omitempty"`
	Adjustment bool    `json:"adjustment,omitempty"`
}

type conflictBody struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// Client — HTTP-клиент выгрузки заказов.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// PushOrder отправляет заказ. force=true — принудительная перезапись
// при разрешении конфликта в пользу локальной записи.
func (c *Client) PushOrder(ctx context.Context, payload OrderPayload, force bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := c.baseURL + "/api/v1/orders"
	if force {
		url += "?force=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("push order %s: %w", payload.Number, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusConflict {
		var cb conflictBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(raw, &cb); err != nil {
			return &ConflictError{}
		}
		return &ConflictError{RemoteUpdatedAt: cb.UpdatedAt}
	}
	return &StatusError{Code: resp.StatusCode}
}
