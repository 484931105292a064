package adminfn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pentestdesk/internal/apperr"
)

// Client invokes the function over HTTP with the caller's access token.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{url: url, http: hc}
}

func (c *Client) Invoke(ctx context.Context, token string, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, apperr.Upstream(fmt.Errorf("invoke admin function: %w", err))
	}
	defer res.Body.Close()

	var out Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Response{}, apperr.Upstream(fmt.Errorf("decode admin function response (status %d): %w", res.StatusCode, err))
	}
	if res.StatusCode == http.StatusOK {
		return out, nil
	}
	return Response{}, statusError(res.StatusCode, out.Error)
}

func statusError(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusBadRequest:
		return apperr.Validation(msg)
	case http.StatusUnauthorized:
		return apperr.Authentication(msg)
	case http.StatusForbidden:
		return apperr.Authorization(msg)
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	default:
		return apperr.Upstream(fmt.Errorf("admin function: %s", msg))
	}
}

func (c *Client) CreateUser(ctx context.Context, token string, req Request) (UserView, error) {
	req.Action = ActionCreateUser
	out, err := c.Invoke(ctx, token, req)
	if err != nil {
		return UserView{}, err
	}
	if out.User == nil {
		return UserView{}, apperr.Upstream(fmt.Errorf("admin function returned no user"))
	}
	return *out.User, nil
}

func (c *Client) ResetPassword(ctx context.Context, token, userID, newPassword string) error {
	_, err := c.Invoke(ctx, token, Request{Action: ActionResetPassword, UserID: userID, NewPassword: newPassword})
	return err
}

func (c *Client) DeleteUser(ctx context.Context, token, userID string) error {
	_, err := c.Invoke(ctx, token, Request{Action: ActionDeleteUser, UserID: userID})
	return err
}
