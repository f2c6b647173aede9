// Package local extracts text in-process: the PDF text layer is read
// directly and images go through the tesseract binary.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

const (
	pdfTextBaseConfidence = 80
	ocrBaseConfidence     = 55
)

var errEmptyText = errors.New("no text extracted")

type Config struct {
	Tesseract     string
	Language      string
	MaxConcurrent int
}

type Processor struct {
	cfg    Config
	runner Runner
	slots  chan struct{}
	logger *slog.Logger
}

type Option func(*Processor)

func WithRunner(r Runner) Option {
	return func(p *Processor) {
		if r != nil {
			p.runner = r
		}
	}
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	p := &Processor{
		cfg:    cfg,
		runner: execRunner{logger: logger},
		slots:  make(chan struct{}, cfg.MaxConcurrent),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process never queues: with every slot busy the call fails fast as
// CapacityExceeded.
func (p *Processor) Process(ctx context.Context, content []byte, mimeType string) (domain.ScanResult, error) {
	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	default:
		return domain.ScanResult{}, domain.NewProcessError(domain.FailureCapacityExceeded,
			fmt.Errorf("local processor busy: %d concurrent scans", cap(p.slots)))
	}

	var (
		text string
		base float64
		err  error
	)
	switch {
	case mimeType == "application/pdf":
		text, err = pdfText(content)
		base = pdfTextBaseConfidence
	case strings.HasPrefix(mimeType, "image/"):
		text, err = p.ocrImage(ctx, content)
		base = ocrBaseConfidence
	default:
		return domain.ScanResult{}, domain.NewProcessError(domain.FailureUnreadableInput,
			fmt.Errorf("unsupported media type %q", mimeType))
	}
	if err != nil {
		return domain.ScanResult{}, err
	}

	text = normalize(text)
	if text == "" {
		return domain.ScanResult{}, domain.NewProcessError(domain.FailureUnreadableInput, errEmptyText)
	}
	return domain.ScanResult{
		ExtractedText: text,
		Confidence:    heuristicConfidence(text, base),
		DocumentType:  classify(text),
	}, nil
}

// pdfText reads the embedded text layer. Scanned PDFs without one come back
// empty and end up as UnreadableInput.
func pdfText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", domain.NewProcessError(domain.FailureUnreadableInput, fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", domain.NewProcessError(domain.FailureUnreadableInput, fmt.Errorf("open pdf: %w", err))
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", domain.NewProcessError(domain.FailureUnreadableInput, fmt.Errorf("read pdf text: %w", err))
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", domain.NewProcessError(domain.FailureUnreadableInput, fmt.Errorf("read pdf text: %w", err))
	}
	return string(raw), nil
}

func (p *Processor) ocrImage(ctx context.Context, content []byte) (string, error) {
	// tesseract stdin stdout -l <lang>
	out, _, err := p.runner.Run(ctx, bytes.NewReader(content), p.cfg.Tesseract, "stdin", "stdout", "-l", p.cfg.Language)
	if err == nil {
		return string(out), nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return "", domain.NewProcessError(domain.FailureUnknown, fmt.Errorf("tesseract unavailable: %w", err))
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.NewProcessError(domain.FailureTimeout, fmt.Errorf("tesseract: %w", ctx.Err()))
		}
		return "", domain.NewProcessError(domain.FailureUnknown, fmt.Errorf("tesseract: %w", ctx.Err()))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", domain.NewProcessError(domain.FailureUnreadableInput, fmt.Errorf("tesseract: %w", err))
	}
	return "", domain.NewProcessError(domain.FailureUnknown, fmt.Errorf("tesseract: %w", err))
}
