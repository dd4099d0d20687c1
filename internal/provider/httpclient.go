package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

func newRestyClient(baseURL string, timeout time.Duration, client *resty.Client) *resty.Client {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(timeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	return client
}

// execute runs req and converts transport failures and non-2xx statuses into
// *ProviderError. The response is returned alongside the error when available
// so adapters can read vendor error bodies.
func execute(ctx context.Context, req *resty.Request, method, path string, vendorCode func([]byte) string) (*resty.Response, error) {
	response, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return response, nil
	}

	body := response.Body()
	providerErr := &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, strings.TrimSpace(string(body))),
		Transient:  isTransientHTTPStatus(statusCode),
	}
	if vendorCode != nil {
		providerErr.VendorCode = vendorCode(body)
	}
	return response, providerErr
}
