package providers

import (
	"fmt"
	"net/http"

	"github.com/openshelf/openshelf/internal/request"
)

// call wraps request.Call with the provider error taxonomy: transport
// failures and 5xx responses become TransientError, a 404 passes through for
// the caller to treat as "no result".
func call(req *http.Request, response interface{}, provider string) (*http.Response, error) {
	resp, err := request.Call(req, response)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return resp, nil
		}
		return resp, &TransientError{Provider: provider, Err: err}
	}
	if resp.StatusCode >= 500 {
		return resp, &TransientError{Provider: provider, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return resp, &TransientError{Provider: provider, Err: fmt.Errorf("rate limited")}
	}
	return resp, nil
}
