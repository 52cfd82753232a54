// Package rest implements the HTTP collaborator calls the guidance
// channel depends on: the comment snapshot, the guidance session
// brackets, and the detail-panel confirmation path.
//
// Session brackets go over REST rather than the realtime channel because
// they must be durably recorded even when the socket is down; the
// resulting bracket comment arrives back through the realtime broadcast
// (or a manual reload).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/techdesk/realtime/internal/errors"
	"github.com/techdesk/realtime/internal/protocol"
)

// DefaultTimeout bounds each collaborator call when the caller's context
// carries no deadline of its own.
const DefaultTimeout = 15 * time.Second

// Client calls the helpdesk backend's REST API with a bearer credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given API origin, e.g.
// "http://helpdesk.local:8000/api". The token is sent as an
// Authorization bearer header on every call.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// SetHTTPClient replaces the underlying HTTP client. Tests use this to
// shorten timeouts; production code keeps the default.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

// Comments fetches the full comment snapshot for a ticket. This seeds the
// history reconciler on channel open and on explicit reload.
func (c *Client) Comments(ctx context.Context, ticketID int64) ([]protocol.Comment, error) {
	path := "/tickets/" + strconv.FormatInt(ticketID, 10) + "/comments/"

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var comments []protocol.Comment
	if err := json.Unmarshal(body, &comments); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRESTDecodeFailed,
			fmt.Sprintf("GET %s returned an unreadable comment list", path), err)
	}
	return comments, nil
}

// StartGuidance creates the guidance_start bracket comment for a ticket.
func (c *Client) StartGuidance(ctx context.Context, ticketID int64) error {
	path := "/tickets/" + strconv.FormatInt(ticketID, 10) + "/guidance/start/"
	_, err := c.do(ctx, http.MethodPost, path, nil)
	return err
}

// endGuidanceRequest is the guidance end payload. Resolved reports whether
// the technician considers the underlying problem fixed.
type endGuidanceRequest struct {
	Message  string `json:"message"`
	Resolved bool   `json:"resolu"`
}

// DefaultEndMessage is the closing message used when the technician does
// not provide one.
const DefaultEndMessage = "Session de guidage terminée avec succès !"

// EndGuidance creates the guidance_end bracket comment for a ticket. An
// empty message falls back to DefaultEndMessage.
func (c *Client) EndGuidance(ctx context.Context, ticketID int64, message string, resolved bool) error {
	if message == "" {
		message = DefaultEndMessage
	}
	path := "/tickets/" + strconv.FormatInt(ticketID, 10) + "/guidance/end/"
	_, err := c.do(ctx, http.MethodPost, path, endGuidanceRequest{Message: message, Resolved: resolved})
	return err
}

// confirmRequest is the REST confirmation payload.
type confirmRequest struct {
	Message string `json:"message"`
}

// ConfirmInstruction acknowledges an instruction over REST. This is the
// detail-panel confirmation surface; the chat widget confirms over the
// realtime channel instead. An empty message falls back to the protocol's
// default acknowledgement text.
func (c *Client) ConfirmInstruction(ctx context.Context, commentID int64, message string) error {
	if message == "" {
		message = protocol.DefaultConfirmationMessage
	}
	path := "/comments/" + strconv.FormatInt(commentID, 10) + "/confirm/"
	_, err := c.do(ctx, http.MethodPost, path, confirmRequest{Message: message})
	return err
}

// do performs one request and returns the response body on 2xx, or a
// coded error otherwise.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperrors.RESTRequestFailed(method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.RESTRequestFailed(method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.RESTRequestFailed(method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.RESTRequestFailed(method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.RESTStatus(method, path, resp.StatusCode)
	}
	return data, nil
}
