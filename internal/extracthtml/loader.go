package extracthtml

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Input describes where page markup comes from. URL wins over Path, Path
// wins over Stdin.
type Input struct {
	URL   string
	Path  string
	Stdin io.Reader
}

// Loader fetches or reads markup with a consistent timeout policy.
type Loader struct {
	client  *resty.Client
	timeout time.Duration
}

// NewLoader creates a Loader. A nil client gets a fresh resty client.
func NewLoader(client *resty.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = resty.New()
	}
	return &Loader{client: client, timeout: timeout}
}

// Load returns the markup for input.
//
// On non-2xx HTTP responses, Load returns an error that includes the status
// code and up to 4KB of the response body.
func (l *Loader) Load(ctx context.Context, input Input) (string, error) {
	switch {
	case strings.TrimSpace(input.URL) != "":
		return l.fetch(ctx, input.URL)
	case input.Path != "":
		b, err := os.ReadFile(input.Path)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(b), nil
	case input.Stdin != nil:
		b, err := io.ReadAll(input.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	default:
		return "", nil
	}
}

func (l *Loader) fetch(ctx context.Context, u string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	res, err := l.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", "ratewatch/1.0").
		Get(u)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	if err := CheckStatus(res.StatusCode(), res.Body()); err != nil {
		return "", err
	}
	return string(res.Body()), nil
}

// CheckStatus returns nil for 2xx codes and otherwise an error carrying the
// code and up to 4KB of body.
func CheckStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	if len(body) > 4096 {
		body = body[:4096]
	}
	return fmt.Errorf("http status %d: %s", code, strings.TrimSpace(string(body)))
}
