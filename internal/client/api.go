// Package client drives uploads against a mediadrop server: strategy
// selection, the chunk splitter, direct and resumable transfers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maneesh/mediadrop/internal/models"
	"github.com/maneesh/mediadrop/internal/upload"
)

// APIError is a non-2xx response. When the envelope carried a known code,
// Unwrap yields an *upload.Error so errors.Is works against upload kinds.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server returned %d %s: %v", e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of an APIError in err's chain, or 0.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// API is a thin client for the mediadrop HTTP endpoints.
type API struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewAPI creates a client for baseURL. A nil httpClient gets an otelhttp
// instrumented default.
func NewAPI(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *API {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger,
	}
}

// BaseURL returns the server root.
func (a *API) BaseURL() string {
	return a.baseURL
}

// AuthHeader returns the headers every request carries.
func (a *API) AuthHeader() http.Header {
	h := http.Header{}
	if a.token != "" {
		h.Set("Authorization", "Bearer "+a.token)
	}
	return h
}

// HTTPClient exposes the underlying client for protocol libraries.
func (a *API) HTTPClient() *http.Client {
	return a.http
}

func (a *API) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range a.AuthHeader() {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out.
func (a *API) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return upload.NewError(upload.ErrTimeout, "", err)
		}
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (a *API) doJSON(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := a.newRequest(ctx, method, path, "application/json", r)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

// decodeError turns an error envelope back into an *upload.Error.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var env models.ErrorResponse
	if err := json.Unmarshal(raw, &env); err != nil || env.Error.Code == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	apiErr.Code = env.Error.Code
	apiErr.Message = env.Error.Message
	kind := upload.KindForCode(env.Error.Code)
	if kind == nil {
		return apiErr
	}

	ue := &upload.Error{Kind: kind, ChunkIndex: -1, Err: errors.New(env.Error.Message)}
	d := env.Error.Details
	if s, ok := d["sessionId"].(string); ok {
		ue.SessionID = s
	}
	if n, ok := d["chunkIndex"].(float64); ok {
		ue.ChunkIndex = int(n)
	}
	if n, ok := d["totalChunks"].(float64); ok {
		ue.TotalChunks = int(n)
	}
	if list, ok := d["missing"].([]any); ok {
		for _, v := range list {
			if n, ok := v.(float64); ok {
				ue.Missing = append(ue.Missing, int(n))
			}
		}
	}
	apiErr.Err = ue
	return apiErr
}

// Limits fetches the server thresholds.
func (a *API) Limits(ctx context.Context) (*models.LimitsResponse, error) {
	var out models.LimitsResponse
	if err := a.doJSON(ctx, http.MethodGet, "/upload/limits", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChunkUpload is one chunk on the wire.
type ChunkUpload struct {
	SessionID   string
	Index       int
	TotalChunks int
	FileName    string
	MimeType    string
	FileType    models.FileType
	Bucket      string
	Path        string
	TotalSize   int64
	Hash        string
	Payload     []byte
}

// SendChunk posts one chunk.
func (a *API) SendChunk(ctx context.Context, c ChunkUpload) (*models.ChunkResponse, error) {
	fields := map[string]string{
		"uploadId":    c.SessionID,
		"chunkIndex":  strconv.Itoa(c.Index),
		"totalChunks": strconv.Itoa(c.TotalChunks),
		"fileName":    c.FileName,
		"fileType":    string(c.FileType),
		"mimeType":    c.MimeType,
		"bucket":      c.Bucket,
		"path":        c.Path,
		"chunkHash":   c.Hash,
	}
	if c.TotalSize > 0 {
		fields["totalSize"] = strconv.FormatInt(c.TotalSize, 10)
	}
	body, contentType, err := multipartBody("chunk", "blob", bytes.NewReader(c.Payload), fields)
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(ctx, http.MethodPost, "/upload/chunk", contentType, body)
	if err != nil {
		return nil, err
	}

	var out models.ChunkResponse
	if err := a.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DirectUpload is a whole file sent in one request.
type DirectUpload struct {
	FileName string
	MimeType string
	FileType models.FileType
	Bucket   string
	Path     string
	Body     io.Reader
}

// PutDirect uploads a whole file.
func (a *API) PutDirect(ctx context.Context, d DirectUpload) (*models.DirectResponse, error) {
	body, contentType, err := multipartBody("file", d.FileName, d.Body, map[string]string{
		"fileName": d.FileName,
		"mimeType": d.MimeType,
		"fileType": string(d.FileType),
		"bucket":   d.Bucket,
		"path":     d.Path,
	})
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(ctx, http.MethodPut, "/upload/direct", contentType, body)
	if err != nil {
		return nil, err
	}

	var out models.DirectResponse
	if err := a.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenSession explicitly creates a chunked session.
func (a *API) OpenSession(ctx context.Context, req models.SessionRequest) (*models.SessionResponse, error) {
	var out models.SessionResponse
	if err := a.doJSON(ctx, http.MethodPost, "/upload/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches a session.
func (a *API) Status(ctx context.Context, sessionID string) (*models.SessionResponse, error) {
	var out models.SessionResponse
	if err := a.doJSON(ctx, http.MethodGet, "/upload/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Assemble retries reassembly or promotion of a session.
func (a *API) Assemble(ctx context.Context, sessionID string) (*models.AssembleResponse, error) {
	var out models.AssembleResponse
	if err := a.doJSON(ctx, http.MethodPost, "/upload/sessions/"+url.PathEscape(sessionID)+"/assemble", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Abort deletes a session and its chunks.
func (a *API) Abort(ctx context.Context, sessionID string) error {
	return a.doJSON(ctx, http.MethodDelete, "/upload/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// CreateRecord registers uploaded media.
func (a *API) CreateRecord(ctx context.Context, req models.CreateRecordRequest) (*models.MediaRecord, error) {
	var out models.MediaRecord
	if err := a.doJSON(ctx, http.MethodPost, "/media", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// multipartBody buffers a form with one file part. Parts are small: a chunk
// is bounded by the server body limit and direct uploads by DirectMaxBytes.
func multipartBody(fileField, fileName string, file io.Reader, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, "", fmt.Errorf("failed to read upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
