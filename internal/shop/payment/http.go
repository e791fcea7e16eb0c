package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPGateway talks to the card processor (cmd/payment-service or a real one)
// over plain JSON POSTs.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeBody struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

type chargeReply struct {
	GatewayRef string `json:"gateway_ref"`
	Error      string `json:"error"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body := chargeBody{
		AmountMinor: MinorUnits(req.Amount),
		Currency:    req.Currency,
		Reference:   req.Reference,
	}
	var reply chargeReply
	if err := g.postJSON(ctx, g.baseURL+"/charge", body, &reply); err != nil {
		return ChargeResult{}, err
	}
	return ChargeResult{GatewayRef: reply.GatewayRef}, nil
}

type refundBody struct {
	GatewayRef  string `json:"gateway_ref"`
	AmountMinor int64  `json:"amount_minor"`
}

func (g *HTTPGateway) Refund(ctx context.Context, gatewayRef string, amount decimal.Decimal) error {
	return g.postJSON(ctx, g.baseURL+"/refund", refundBody{
		GatewayRef:  gatewayRef,
		AmountMinor: MinorUnits(amount),
	}, nil)
}

func (g *HTTPGateway) postJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var reply chargeReply
		if jerr := json.Unmarshal(raw, &reply); jerr == nil && reply.Error != "" {
			return fmt.Errorf("processor: %s", reply.Error)
		}
		return fmt.Errorf("processor: status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("processor: decode reply: %w", err)
		}
	}
	return nil
}
