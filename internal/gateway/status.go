package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	logx "expirybot/pkg/logx"
)

// Status is the instance connection state. Failures degrade to State "error".
type Status struct {
	Instance string          `json:"instance,omitempty"`
	State    string          `json:"state"`
	Error    string          `json:"error,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// Pairing is the QR/pairing artifact for linking the instance.
type Pairing struct {
	PairingCode string          `json:"pairing_code,omitempty"`
	Code        string          `json:"code,omitempty"`
	Base64      string          `json:"base64,omitempty"`
	Error       string          `json:"error,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

const stateError = "error"

var errEmptyState = errors.New("gateway: empty connection state")

// ConnectionState queries the instance health. It never returns an error.
func (c *Client) ConnectionState(ctx context.Context) Status {
	raw, err := c.get(ctx, "/instance/connectionState/")
	if err != nil {
		c.log.Error("gateway status check failed", logx.Err(err))
		return Status{Instance: c.cfg.Instance, State: stateError, Error: err.Error()}
	}

	// Evolution 1.8 nests the state under "instance"; newer builds flatten it.
	var body struct {
		Instance *struct {
			InstanceName string `json:"instanceName"`
			State        string `json:"state"`
		} `json:"instance"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Status{Instance: c.cfg.Instance, State: stateError, Error: err.Error(), Raw: raw}
	}
	st := Status{Instance: c.cfg.Instance, State: body.State, Raw: raw}
	if body.Instance != nil && body.Instance.State != "" {
		st.State = body.Instance.State
	}
	if st.State == "" {
		st.State, st.Error = stateError, errEmptyState.Error()
	}
	return st
}

// Connect fetches the pairing artifact. It never returns an error.
func (c *Client) Connect(ctx context.Context) Pairing {
	raw, err := c.get(ctx, "/instance/connect/")
	if err != nil {
		c.log.Error("gateway connect failed", logx.Err(err))
		return Pairing{Error: err.Error()}
	}
	var body struct {
		PairingCode string `json:"pairingCode"`
		Code        string `json:"code"`
		Base64      string `json:"base64"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Pairing{Error: err.Error(), Raw: raw}
	}
	return Pairing{PairingCode: body.PairingCode, Code: body.Code, Base64: body.Base64, Raw: raw}
}

func (c *Client) get(ctx context.Context, prefix string) (json.RawMessage, error) {
	if c.cfg.BaseURL == "" || c.cfg.Instance == "" {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+prefix+url.PathEscape(c.cfg.Instance), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snip(body))
	}
	return body, nil
}
