// Package bridge implements the HTTP client side of the host emulator's
// remote I/O protocol: registering/deregistering an I/O port and reading
// or writing host memory via DMA requests.
package bridge

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Client talks to one host emulator's RESTful I/O/DMA interface.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client with a sane request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Register tells the host to forward writes on port to callbackURL,
// matching PATCH /io?p=-{port:02X}&b=0x0F with the callback URL as the
// request body. The trailing b=0x0F qualifier is the host's byte-wide I/O
// port declaration; the original fifDirSrv.py predates it and omits the
// parameter, registering with a bare p=-FD.
func (c *Client) Register(port byte, callbackURL string) error {
	url := fmt.Sprintf("%s/io?p=-%02X&b=0x0F", c.BaseURL, port)
	req, err := http.NewRequest(http.MethodPatch, url, bytes.NewBufferString(callbackURL))
	if err != nil {
		return errors.Wrap(err, "bridge: build register request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrap(err, "bridge: register")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("bridge: register port %02X: host returned %d", port, resp.StatusCode)
	}
	return nil
}

// Deregister releases port, matching DELETE /io?p={port:02X}.
func (c *Client) Deregister(port byte) error {
	url := fmt.Sprintf("%s/io?p=%02X", c.BaseURL, port)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return errors.Wrap(err, "bridge: build deregister request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrap(err, "bridge: deregister")
	}
	defer resp.Body.Close()
	return nil
}

// DMARead fetches n bytes of host memory starting at addr.
func (c *Client) DMARead(addr uint16, n int) ([]byte, error) {
	url := fmt.Sprintf("%s/dma?m=%04X&n=%02X", c.BaseURL, addr, n)
	resp, err := c.HTTP.Get(url)
	if err != nil {
		return nil, errors.Wrapf(err, "bridge: DMA read at %04X", addr)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: read DMA response body")
	}
	if len(body) != n {
		return nil, errors.Errorf("bridge: DMA read at %04X returned %d bytes, want %d", addr, len(body), n)
	}
	return body, nil
}

// DMAWrite writes data into host memory starting at addr.
func (c *Client) DMAWrite(addr uint16, data []byte) error {
	url := fmt.Sprintf("%s/dma?m=%04X", c.BaseURL, addr)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "bridge: build DMA write request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "bridge: DMA write at %04X", addr)
	}
	defer resp.Body.Close()
	return nil
}
