package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const maxErrorBody = 512

// HTTPSink posts each record as JSON and only accepts 201 Created.
type HTTPSink struct {
	client *resty.Client
	url    string
}

func NewHTTPSink(url string, timeout time.Duration) (*HTTPSink, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("sink: http url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPSink{client: client, url: url}, nil
}

func (s *HTTPSink) Write(ctx context.Context, rec Record) error {
	resp, err := s.client.R().SetContext(ctx).SetBody(rec).Post(s.url)
	if err != nil {
		return fmt.Errorf("post chunk: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		body := strings.TrimSpace(resp.String())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return fmt.Errorf("post chunk: unexpected status %d: %s", resp.StatusCode(), body)
	}
	return nil
}

func (s *HTTPSink) Close(context.Context) error {
	return nil
}
