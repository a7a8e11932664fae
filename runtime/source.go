package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/wippyai/wasm-instrument/errors"
)

// Source produces module bytes for streaming instantiation.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

type readerSource struct {
	r io.Reader
}

// FromReader reads the module from r.
func FromReader(r io.Reader) Source {
	return readerSource{r: r}
}

func (s readerSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(s.r), nil
}

func (s readerSource) String() string { return "reader" }

type fileSource string

// FromFile reads the module from a file.
func FromFile(path string) Source {
	return fileSource(path)
}

func (s fileSource) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(string(s))
}

func (s fileSource) String() string { return string(s) }

type urlSource struct {
	client *http.Client
	url    string
}

// FromURL fetches the module with an HTTP GET. A nil client uses http.DefaultClient.
func FromURL(url string, client *http.Client) Source {
	if client == nil {
		client = http.DefaultClient
	}
	return urlSource{url: url, client: client}
}

func (s urlSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", s.url, resp.Status)
	}
	return resp.Body, nil
}

func (s urlSource) String() string { return s.url }

func readSource(ctx context.Context, src Source) ([]byte, error) {
	if src == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "nil module source")
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, errors.Load("open "+src.String(), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Load("read "+src.String(), err)
	}
	return data, nil
}
