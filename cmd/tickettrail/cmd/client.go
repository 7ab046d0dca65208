package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
)

// errNoRunner means no runner answered on the API address.
var errNoRunner = errors.New("no runner reachable")

// apiClient talks to the HTTP command channel of a runner.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(listen string) *apiClient {
	return &apiClient{
		base: baseURL(listen),
		http: &http.Client{Timeout: 90 * time.Second},
	}
}

// baseURL turns a listen address into a URL a client can dial.
func baseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *apiClient) Command(ctx context.Context, cmd control.Command) (*control.Result, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/commands", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res control.Result
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) do(req *http.Request, dst interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w at %s", errNoRunner, c.base)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("runner: %s", apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// dispatch sends cmd to a running instance over HTTP, or applies it to the
// state store directly when no runner is listening.
func dispatch(ctx context.Context, cfg *config.Config, cmd control.Command) (*control.Result, error) {
	if cfg.API.Enabled {
		res, err := newAPIClient(cfg.API.Listen).Command(ctx, cmd)
		if err == nil || !errors.Is(err, errNoRunner) {
			return res, err
		}
	}

	logger := logging.NewNop()
	lc, err := newLocalControl(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer lc.Close()
	return lc.ExecuteCommand(ctx, cmd)
}

// runCommand loads the configuration and dispatches action with payload.
func runCommand(ctx context.Context, action control.Action, payload string) (*control.Result, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	return dispatch(ctx, cfg, control.Command{
		Action:  action,
		Payload: payload,
		Target:  strings.TrimSpace(target),
	})
}
