package classifier

import (
    "context"
    "fmt"
    "strings"
    "time"

    xhttp "SignalPulse/pkg/http"
)

// HTTPServiceBase holds the client and base URL shared by HTTP backed classifiers.
type HTTPServiceBase struct {
    baseURL string
    client  *xhttp.Client
}

// NewHTTPServiceBase builds a client with its own timeout. The per-attempt
// deadline normally comes from ctx; timeout is a backstop.
func NewHTTPServiceBase(baseURL string, timeout time.Duration) *HTTPServiceBase {
    if timeout <= 0 {
        timeout = 30 * time.Second
    }
    return &HTTPServiceBase{
        baseURL: strings.TrimRight(baseURL, "/"),
        client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
    }
}

// PostJSON posts payload to path under baseURL and decodes the JSON answer.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, headers map[string]string, payload interface{}, dest interface{}) error {
    if b.client == nil || b.baseURL == "" {
        return fmt.Errorf("classifier http client not initialized")
    }
    err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
        Method:  xhttp.MethodPost,
        URL:     b.baseURL + path,
        Headers: headers,
        Body:    payload,
    }, dest)
    if err != nil {
        return fmt.Errorf("post %s: %w", path, err)
    }
    return nil
}
