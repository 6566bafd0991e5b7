package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradespot/deposit-service/internal/config"
	"github.com/tradespot/deposit-service/internal/models"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const depositRecordsPath = "/v5/asset/deposit/query-record"

// depositStatusSuccess is the numeric status the exchange uses for a
// credited on-chain deposit.
const depositStatusSuccess = "3"

// Client reads incoming deposits to the custodial account from the exchange.
type Client struct {
	cfg        config.ExchangeConfig
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(cfg config.ExchangeConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

type depositRecordsResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Rows []depositRecord `json:"rows"`
	} `json:"result"`
}

type depositRecord struct {
	ID          string     `json:"id"`
	TxID        string     `json:"txID"`
	Coin        string     `json:"coin"`
	Chain       string     `json:"chain"`
	Amount      string     `json:"amount"`
	ToAddress   string     `json:"toAddress"`
	Status      statusText `json:"status"`
	SuccessAt   string     `json:"successAt"`
	UpdatedTime string     `json:"updatedTime"`
}

// statusText accepts the status as either a JSON number or a string.
type statusText string

func (s *statusText) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = statusText(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("invalid status %s", string(b))
	}
	*s = statusText(num.String())
	return nil
}

// FetchRecentTransfers returns the latest deposit records for the configured
// coin and chain. Any failure is reported as ErrExternalSourceUnavailable.
func (c *Client) FetchRecentTransfers(ctx context.Context) (transfers []models.ExternalTransfer, err error) {
	tracer := otel.Tracer("exchange-client")
	ctx, span := tracer.Start(ctx, "FetchRecentTransfers")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	params := map[string]string{
		"coin":  c.cfg.Coin,
		"limit": strconv.Itoa(c.cfg.Limit),
	}
	if c.cfg.Chain != "" {
		params["chainType"] = c.cfg.Chain
	}
	query := CanonicalQuery(params)
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	recvWindow := strconv.FormatInt(c.cfg.RecvWindow, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+depositRecordsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", pkgerrors.ErrExternalSourceUnavailable, err)
	}
	req.URL.RawQuery = query
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", Sign(c.cfg.APISecret, timestamp, c.cfg.APIKey, recvWindow, query))
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("failed to query deposit records", "url", req.URL.Path, "error", err)
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrExternalSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", pkgerrors.ErrExternalSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("exchange returned non-OK status", "status_code", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("%w: status %d", pkgerrors.ErrExternalSourceUnavailable, resp.StatusCode)
	}

	var payload depositRecordsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Error("failed to decode deposit records", "error", err)
		return nil, fmt.Errorf("%w: failed to decode response: %w", pkgerrors.ErrExternalSourceUnavailable, err)
	}
	if payload.RetCode != 0 {
		slog.Error("exchange rejected deposit query", "ret_code", payload.RetCode, "ret_msg", payload.RetMsg)
		return nil, fmt.Errorf("%w: retCode %d: %s", pkgerrors.ErrExternalSourceUnavailable, payload.RetCode, payload.RetMsg)
	}

	transfers = make([]models.ExternalTransfer, 0, len(payload.Result.Rows))
	for _, row := range payload.Result.Rows {
		t, convErr := row.toTransfer()
		if convErr != nil {
			slog.Warn("skipping malformed deposit record", "tx_id", row.TxID, "id", row.ID, "error", convErr)
			continue
		}
		transfers = append(transfers, t)
	}

	span.SetAttributes(attribute.Int("records", len(payload.Result.Rows)), attribute.Int("transfers", len(transfers)))
	slog.Debug("deposit records fetched", "records", len(payload.Result.Rows), "transfers", len(transfers))
	return transfers, nil
}

func (r depositRecord) toTransfer() (models.ExternalTransfer, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return models.ExternalTransfer{}, fmt.Errorf("invalid amount %q: %w", r.Amount, err)
	}

	id := r.TxID
	if id == "" {
		id = r.ID
	}
	if id == "" {
		return models.ExternalTransfer{}, fmt.Errorf("record has no transaction id")
	}

	observed := r.UpdatedTime
	if observed == "" {
		observed = r.SuccessAt
	}
	ms, err := strconv.ParseInt(observed, 10, 64)
	if err != nil {
		return models.ExternalTransfer{}, fmt.Errorf("invalid timestamp %q: %w", observed, err)
	}

	return models.ExternalTransfer{
		TransactionID:      id,
		Amount:             amount,
		DestinationAddress: r.ToAddress,
		Status:             normalizeStatus(string(r.Status)),
		ObservedAt:         time.UnixMilli(ms).UTC(),
	}, nil
}

func normalizeStatus(s string) models.TransferStatus {
	switch strings.ToLower(s) {
	case depositStatusSuccess, "success":
		return models.TransferSuccess
	case "4", "failed", "fail":
		return models.TransferFailed
	default:
		return models.TransferPending
	}
}

// CanonicalQuery sorts params by key and joins them as key=value&key=value.
// The result is used verbatim both as the request query and in the signature.
func CanonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

// Sign returns the hex HMAC-SHA256 of timestamp+apiKey+recvWindow+query.
func Sign(secret, timestamp, apiKey, recvWindow, query string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp + apiKey + recvWindow + query))
	return hex.EncodeToString(h.Sum(nil))
}
