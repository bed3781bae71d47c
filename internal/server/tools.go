package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"docgate/internal/gateway"
	"docgate/internal/identity"
	"docgate/internal/provider"
	"docgate/internal/template"
	"docgate/pkg/logging"
)

const maxResponseBytes = 1 << 20

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("auth_status",
		mcp.WithDescription("Report the caller identity and whether a document API token is available."),
	), s.handleAuthStatus)

	s.mcp.AddTool(mcp.NewTool("docs_request",
		mcp.WithDescription("Call the document API as the current caller."),
		mcp.WithString("method",
			mcp.Description("HTTP method, GET when omitted."),
			mcp.Enum(allowedMethods...),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path below the document API base URL, optionally with a query string."),
		),
		mcp.WithString("body",
			mcp.Description("JSON request body."),
		),
	), s.handleDocsRequest)
}

func (s *Server) mode() string {
	if s.tokens.TenantMode() {
		return "tenant"
	}
	return "user"
}

func (s *Server) handleAuthStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, sessionID := s.callerIdentity(ctx)

	data := map[string]any{
		"Mode":    s.mode(),
		"UserKey": id.UserKey,
		"Session": sessionID,
	}

	_, err := s.tokens.Token(identity.WithIdentity(ctx, id))
	switch {
	case err == nil:
		data["TokenState"] = "available"
	case errors.Is(err, provider.ErrAuthRequired):
		data["TokenState"] = "authorization required"
		if id.UserKey != "" {
			data["Link"] = gateway.LoginURL(id.BaseURL, id.UserKey)
		}
	default:
		data["TokenState"] = "unavailable: " + err.Error()
	}

	text, err := s.messages.Render(template.AuthStatus, data)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleDocsRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	method := strings.ToUpper(req.GetString("method", http.MethodGet))
	if !slices.Contains(allowedMethods, method) {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported method %q", method)), nil
	}
	target, err := s.apiURL(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, _ := s.callerIdentity(ctx)
	tok, err := s.tokens.Token(identity.WithIdentity(ctx, id))
	if errors.Is(err, provider.ErrAuthRequired) {
		return s.authRequiredResult(id)
	}
	if err != nil {
		logging.Warn("Server", "No token for document request by %s: %v", logging.TruncateKey(id.UserKey), err)
		return mcp.NewToolResultError("document API token unavailable, retry later"), nil
	}

	var body io.Reader
	if b := req.GetString("body", ""); b != "" {
		body = strings.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build document request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("document API request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read document API response: %v", err)), nil
	}

	logging.Debug("Server", "%s %s -> %d", method, target, resp.StatusCode)
	text := fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, payload)
	if resp.StatusCode >= http.StatusBadRequest {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

// authRequiredResult tells a caller without a token how to get one.
func (s *Server) authRequiredResult(id identity.Identity) (*mcp.CallToolResult, error) {
	if id.UserKey == "" {
		text, err := s.messages.Render(template.AuthAnonymous, nil)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultError(text), nil
	}

	text, err := s.messages.Render(template.AuthRequired, map[string]any{
		"Provider": s.cfg.Provider,
		"UserKey":  id.UserKey,
		"Link":     gateway.LoginURL(id.BaseURL, id.UserKey),
		"StateTTL": gateway.StateTTL.String(),
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultError(text), nil
}

// apiURL resolves a tool path against the document API base URL and refuses
// anything that would leave it.
func (s *Server) apiURL(p string) (string, error) {
	ref, err := url.Parse(p)
	if err != nil || ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("path must be relative to the document API: %q", p)
	}
	if slices.Contains(strings.Split(ref.Path, "/"), "..") {
		return "", fmt.Errorf("path escapes the document API: %q", p)
	}

	target := s.apiBase.JoinPath(ref.Path)
	base := strings.TrimSuffix(s.apiBase.Path, "/")
	if target.Path != base && !strings.HasPrefix(target.Path, base+"/") {
		return "", fmt.Errorf("path escapes the document API: %q", p)
	}
	target.RawQuery = ref.RawQuery
	return target.String(), nil
}
