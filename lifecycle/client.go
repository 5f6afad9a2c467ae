package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
)

var _ Service = (*Client)(nil)

// Client implements Service over the http APIs of the writer and reader services
type Client struct {
	C             *http.Client
	writerURL     string
	readerURL     string
	sessionCookie string
}

type Config struct {
	WriterURL string
	ReaderURL string
	// SessionCookie is the encoded value of the session cookie issued by the auth service
	SessionCookie string
	RT            http.RoundTripper
	// fields below are optional
	RequestTimeout time.Duration
}

func NewClient(cfg *Config) *Client {
	c := &http.Client{
		Transport: cfg.RT,
		Timeout:   cfg.RequestTimeout,
	}
	return &Client{
		C:             c,
		writerURL:     strings.TrimSuffix(cfg.WriterURL, "/"),
		readerURL:     strings.TrimSuffix(cfg.ReaderURL, "/"),
		sessionCookie: cfg.SessionCookie,
	}
}

func (c *Client) Create(ctx context.Context, d *md.Draft) (md.Wave, error) {
	var w md.Wave
	if err := c.do(ctx, http.MethodPost, c.writerURL+"/waves", d, &w); err != nil {
		return md.Wave{}, err
	}
	return w, nil
}

func (c *Client) ListMine(ctx context.Context) ([]md.Wave, error) {
	var ws []md.Wave
	if err := c.do(ctx, http.MethodGet, c.readerURL+"/waves/mine", nil, &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Client) ListAllies(ctx context.Context) ([]md.Wave, error) {
	var ws []md.Wave
	if err := c.do(ctx, http.MethodGet, c.readerURL+"/waves/allies", nil, &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Client) Delete(ctx context.Context, waveID string) error {
	return c.do(ctx, http.MethodDelete, c.writerURL+"/waves/"+url.PathEscape(waveID), nil, nil)
}

func (c *Client) RecordView(ctx context.Context, waveID string) error {
	return c.do(ctx, http.MethodPost, c.writerURL+"/waves/"+url.PathEscape(waveID)+"/views", nil, nil)
}

func (c *Client) React(ctx context.Context, waveID string) error {
	return c.do(ctx, http.MethodPost, c.writerURL+"/waves/"+url.PathEscape(waveID)+"/reactions", nil, nil)
}

func (c *Client) ListViewers(ctx context.Context, waveID string) ([]md.Viewer, error) {
	var vs []md.Viewer
	if err := c.do(ctx, http.MethodGet, c.readerURL+"/waves/"+url.PathEscape(waveID)+"/viewers", nil, &vs); err != nil {
		return nil, err
	}
	return vs, nil
}

func (c *Client) Close() {
	// release the connections held by C
	c.C.CloseIdleConnections()
}

// do sends a request carrying in as JSON body, if any, and decodes the 2XX response body into
// out, if any. Error responses are turned back into the Err the service answered with.
func (c *Client) do(ctx context.Context, method, u string, in, out interface{}) error {
	clog := logging.WithFuncName().WithFields(log.Fields{"method": method, "url": u})
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return se.NewServiceFailure("error marshalling request body").WithCause(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return se.NewServiceFailure("error creating request to wave service").WithCause(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.sessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: cst.SessionName, Value: c.sessionCookie})
	}
	resp, err := c.C.Do(req)
	if err != nil {
		clog.WithError(err).Warn("error getting response from wave service")
		return se.NewTransientNetwork("error getting response from wave service").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		serr := toErr(resp.Body, resp.StatusCode)
		clog.WithError(serr).WithField("status", resp.StatusCode).Debug("wave service answered with error")
		return serr
	}
	if out == nil {
		// drain so that the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return se.NewDependencyFailure("failed to unmarshal wave service response body").WithCause(err)
	}
	return nil
}

func toErr(r io.Reader, status int) *se.Err {
	var b se.Body
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return se.NewDependencyFailure("failed to unmarshal wave service error response, status " + http.StatusText(status)).
			WithCause(err)
	}
	if b.Code == "" && status >= 500 {
		return se.NewTransientNetwork(b.Message)
	}
	return se.FromBody(b)
}
