// Package remote calls an external OCR service over HTTP.
package remote

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/infrastructure/resilience"
)

const extractOperation = "ocr.extract"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
	validator  *responseValidator
}

type Options struct {
	APIKey             string
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) (*Client, error) {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	validator, err := newResponseValidator()
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     options.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
		validator:  validator,
	}, nil
}

type extractRequest struct {
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

type extractResponse struct {
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	DocumentType string  `json:"document_type"`
}

// Process sends the document to POST /v1/extract. Every error is a
// *domain.ProcessError.
func (c *Client) Process(ctx context.Context, content []byte, mimeType string) (domain.ScanResult, error) {
	request := extractRequest{
		MimeType: mimeType,
		Content:  base64.StdEncoding.EncodeToString(content),
	}

	var response extractResponse
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/extract", request, &response, "extract")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, extractOperation, call, classifyRemoteError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.ScanResult{}, domain.NewProcessError(failureKind(ctx, err), err)
	}

	return domain.ScanResult{
		ExtractedText: response.Text,
		Confidence:    response.Confidence,
		DocumentType:  strings.TrimSpace(response.DocumentType),
	}, nil
}
