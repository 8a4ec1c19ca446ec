// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Mutation result statuses as reported by the remote mutation endpoint.
const (
	MutationOK       = "ok"
	MutationRejected = "rejected"
	MutationError    = "error"
)

// WireMutation is one queued local change in wire format.
type WireMutation struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MutationResult is the per-mutation outcome returned by the server.
type MutationResult struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ServerID string `json:"serverId,omitempty"`
	Message  string `json:"message,omitempty"`
}

type mutationRequest struct {
	Mutations []WireMutation `json:"mutations"`
}

type mutationResponse struct {
	Results []MutationResult `json:"results"`
}

type pullResponse struct {
	Records []json.RawMessage `json:"records"`
}

// AttachmentUpload is the binary upload request body.
type AttachmentUpload struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"workOrderId,omitempty"`
	AnswerID    string `json:"answerId,omitempty"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
	Base64Data  string `json:"base64Data"`
}

type attachmentUploadResponse struct {
	RemotePath string `json:"remotePath"`
}

// TokenFunc supplies the bearer token for remote calls.
type TokenFunc func(ctx context.Context) (string, error)

// Transport is the HTTP client for the remote sync API. It classifies
// failures into the engine's error taxonomy.
type Transport struct {
	BaseURL string
	Scope   string // owning technician id, sent as the scope query param
	Token   TokenFunc
	HTTP    *http.Client
}

// NewTransport creates a transport with a default HTTP client.
func NewTransport(baseURL, scope string, token TokenFunc) *Transport {
	return &Transport{
		BaseURL: baseURL,
		Scope:   scope,
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Pull fetches wire records newer than the since cursor, scoped to the
// current technician.
func (t *Transport) Pull(ctx context.Context, entity, since string, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	q.Set("scope", t.Scope)
	q.Set("limit", fmt.Sprintf("%d", limit))

	var resp pullResponse
	if err := t.doJSON(ctx, http.MethodGet, "/sync/"+entity+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// PushMutations submits a mutation batch and returns per-mutation results in
// submission order.
func (t *Transport) PushMutations(ctx context.Context, entity string, mutations []WireMutation) ([]MutationResult, error) {
	var resp mutationResponse
	if err := t.doJSON(ctx, http.MethodPost, "/sync/"+entity+"/mutations", mutationRequest{Mutations: mutations}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(mutations) {
		return nil, fmt.Errorf("result count mismatch: sent %d mutations, got %d results", len(mutations), len(resp.Results))
	}
	return resp.Results, nil
}

// UploadAttachment uploads one binary payload and returns its remote path.
func (t *Transport) UploadAttachment(ctx context.Context, upload *AttachmentUpload) (string, error) {
	var resp attachmentUploadResponse
	if err := t.doJSON(ctx, http.MethodPost, "/attachments", upload, &resp); err != nil {
		return "", err
	}
	if resp.RemotePath == "" {
		return "", &TransientServerError{StatusCode: http.StatusOK, Message: "upload response missing remotePath"}
	}
	return resp.RemotePath, nil
}

func (t *Transport) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := t.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
			return &TransientServerError{StatusCode: resp.StatusCode, Message: string(msg)}
		default:
			return &ValidationError{StatusCode: resp.StatusCode, Message: string(msg)}
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
