package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPClient returns a client with a connection timeout and a global timeout
func HTTPClient(connectTimeout, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
}

// HTTPGet returns the body of the response, if the status is 200
func HTTPGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPGet: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, MakeTemporary(fmt.Errorf("HTTPGet: %w", err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, MakeTemporary(fmt.Errorf("HTTPGet.ReadAll: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("HTTPGet[%s]: %s", url, resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			err = MakeTemporary(err)
		}
		return nil, err
	}
	return body, nil
}

// HTTPPostWithHeaders posts a json body with the given headers
func HTTPPostWithHeaders(ctx context.Context, client *http.Client, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPPost: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return client.Do(req)
}
