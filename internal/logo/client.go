// Package logo проверяет, что ссылка на логотип бота отдаёт изображение.
package logo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
)

// Client инкапсулирует HTTP-запросы к хостингу логотипа. Ответы 429 и 5xx
// повторяются с учётом Retry-After.
type Client struct {
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент проверки логотипа.
func NewClient(logger *zap.Logger) *Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = 5 * time.Second
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = leveledLogger{s: logger.Sugar()}

	return &Client{httpClient: c}
}

// VerifyLogo запрашивает logoURL и убеждается, что по ней отдаётся изображение.
// Недоступная ссылка или не-изображение считаются ошибкой валидации.
func (c *Client) VerifyLogo(ctx context.Context, logoURL string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, logoURL, nil)
	if err != nil {
		return fmt.Errorf("%w: logo url: %w", model.ErrValidation, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: logo url unreachable: %w", model.ErrValidation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: logo url answered %d", model.ErrValidation, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: logo url serves %q, not an image", model.ErrValidation, ct)
	}

	return nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
