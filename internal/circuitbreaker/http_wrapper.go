package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper runs an http.Client through a breaker. Provider calls use
// one wrapper per provider so a dead provider cannot trip the others.
type HTTPWrapper struct {
	client *http.Client
	cb     *Breaker
	name   string
	logger *zap.Logger
}

func NewHTTPWrapper(client *http.Client, name string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWrapper{
		client: client,
		cb:     New(name, ProviderConfig(), logger),
		name:   name,
		logger: logger,
	}
}

// Do executes the request through the breaker. 5xx responses count as
// breaker failures but the response is still returned to the caller;
// 4xx responses never trip the breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var callErr error
		resp, callErr = hw.client.Do(req)
		if callErr != nil {
			return callErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	recordRequest(hw.name, err == nil)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

func (hw *HTTPWrapper) State() State { return hw.cb.State() }

// httpStatusError marks 5xx responses for breaker accounting only.
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
