package portal

import (
	"fmt"
	"io"
	"net/http"
)

// HTTPError is returned for every non-2xx portal response.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// StatusCode ...
func (e *HTTPError) StatusCode() int {
	return e.Status
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return &HTTPError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Body:   string(errorResp),
	}
}
