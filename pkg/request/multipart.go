package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"time"

	"github.com/geodrift/arcrest/internal/observability"
	"github.com/geodrift/arcrest/pkg/auth"
	"github.com/geodrift/arcrest/pkg/esri"
)

// Upload describes one file part of a multipart request. ContentType is
// guessed from the file extension when empty.
type Upload struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     io.Reader
}

// MIMEType resolves the part's content type.
func (u Upload) MIMEType() string {
	if u.ContentType != "" {
		return u.ContentType
	}
	if t := mime.TypeByExtension(filepath.Ext(u.FileName)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// PostMultipart issues a multipart POST, used by the attachment endpoints.
// Parameter handling matches Do: f=json injection, token channel selection
// and envelope classification, with the same one-shot refresh.
func (c *Client) PostMultipart(ctx context.Context, rawURL string, params Params, upload Upload, out any, opts ...RequestOption) error {
	var co callOptions
	for _, f := range opts {
		f(&co)
	}

	// the upload is buffered once so the auth retry can resend it; the
	// first attempt drains a plain io.Reader
	var raw []byte
	if upload.Content != nil {
		var err error
		raw, err = io.ReadAll(upload.Content)
		if err != nil {
			return fmt.Errorf("request: read upload %s: %w", upload.FileName, err)
		}
		upload.Content = bytes.NewReader(raw)
	}

	body, err := c.multipartOnce(ctx, rawURL, params, upload, co)
	if err != nil && !co.skipAuth && co.token == nil && esri.IsAuthError(err) {
		tok, rerr := c.idm.Refresh(ctx, rawURL)
		if rerr != nil {
			return err
		}
		co.token = &tok
		if raw != nil {
			upload.Content = bytes.NewReader(raw)
		}
		body, err = c.multipartOnce(ctx, rawURL, params, upload, co)
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("request: decode %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) multipartOnce(ctx context.Context, rawURL string, params Params, upload Upload, co callOptions) ([]byte, error) {
	target := c.applyProtocol(rawURL)

	values, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if values.Get("f") == "" {
		values.Set("f", "json")
	}

	var tok *auth.Token
	if co.token != nil {
		tok = co.token
	} else if !co.skipAuth {
		if found, ok := c.idm.FindToken(ctx, target); ok {
			tok = &found
		}
	}
	if tok != nil && tok.UsesQueryParam() {
		values.Set("token", tok.Value)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name := range values {
		if err := w.WriteField(name, values.Get(name)); err != nil {
			return nil, fmt.Errorf("request: multipart field %s: %w", name, err)
		}
	}
	if upload.Content != nil {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, upload.FieldName, upload.FileName))
		h.Set("Content-Type", upload.MIMEType())
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("request: multipart part: %w", err)
		}
		if _, err := io.Copy(part, upload.Content); err != nil {
			return nil, fmt.Errorf("request: multipart copy: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("request: multipart close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, fmt.Errorf("request: build: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("User-Agent", esri.UserAgent)
	if tok != nil && !tok.UsesQueryParam() {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tok.Value})
	}
	if tok != nil && tok.Referer != "" {
		req.Header.Set("Referer", tok.Referer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ObserveRequest(operationOf(target), 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("request: %s: %w", target, err)
	}
	defer resp.Body.Close()
	body, readErr := io.ReadAll(resp.Body)
	observability.ObserveRequest(operationOf(target), resp.StatusCode, time.Since(start).Seconds())
	if readErr != nil {
		return nil, fmt.Errorf("request: read %s: %w", target, readErr)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request: %s: unexpected status %d", target, resp.StatusCode)
	}
	if re := esri.ExtractError(body); re != nil {
		return body, fmt.Errorf("request: %s: %w", target, re)
	}
	return body, nil
}
