package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/congo-pay/cards/internal/apperr"
)

const maxErrorBody = 4 << 10

// StatusError is a non-2xx response from a downstream service.
type StatusError struct {
	Service string
	Method  string
	Path    string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Service, e.Method, e.Path, e.Status, e.Body)
}

// base holds what every service client shares.
type base struct {
	url   string
	http  *http.Client
	guard *Guard
}

func newBase(baseURL string, httpClient *http.Client, guard *Guard) base {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return base{url: strings.TrimRight(baseURL, "/"), http: httpClient, guard: guard}
}

// call performs one guarded JSON round trip. in may be nil; out may be nil.
func (b base) call(ctx context.Context, method, path string, in, out any) error {
	return b.guard.Do(ctx, func(ctx context.Context) error {
		var body io.Reader
		if in != nil {
			payload, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, b.url+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := b.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &StatusError{
				Service: b.guard.Name(),
				Method:  method,
				Path:    path,
				Status:  resp.StatusCode,
				Body:    strings.TrimSpace(string(raw)),
			}
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s response: %w", b.guard.Name(), err)
		}
		return nil
	})
}

// classify turns common status codes into domain error kinds. notFound is
// returned for 404 when non-nil.
func classify(err error, notFound error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Status == http.StatusNotFound && notFound != nil:
		return notFound
	case se.Status == http.StatusBadRequest:
		return apperr.Newf(apperr.ErrInvalidArgument, "%s rejected the request: %s", se.Service, se.Body)
	case se.Status >= 500:
		return apperr.Newf(apperr.ErrDownstreamUnavailable, "%s failed with status %d", se.Service, se.Status)
	}
	return err
}
