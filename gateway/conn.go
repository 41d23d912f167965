package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	raven "github.com/getsentry/raven-go"
	"github.com/golang/groupcache/singleflight"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/util"
)

// DefaultGateway is used when no gateway is configured.
const DefaultGateway = "https://arweave.net"

// A Connection represents a connection with an Arweave gateway.
// It can be shared between multiple goroutines. Concurrent fetches of the
// same transaction are coalesced into one request. The request does not
// belong to any one caller: it is bounded by Timeout, and a caller which
// gives up does not cancel it for the others.
type Connection struct {
	// The gateway this connection is to, e.g. "https://arweave.net"
	HostURL string

	// Timeout bounds each request. Zero means ten minutes.
	Timeout time.Duration

	// Rate, if not nil, limits how fast response bodies are read.
	Rate *util.RateCounter

	// CheckSize compares the decoded length with the data_size the
	// gateway reports for the transaction.
	CheckSize bool

	Log logrus.FieldLogger

	once    sync.Once
	timeout time.Duration
	client  *http.Client
	group  singleflight.Group
}

var _ Source = &Connection{}

func (c *Connection) init() {
	c.once.Do(func() {
		if c.HostURL == "" {
			c.HostURL = DefaultGateway
		}
		c.HostURL = strings.TrimRight(c.HostURL, "/")
		timeout := c.Timeout
		if timeout == 0 {
			timeout = 10 * time.Minute // arbitrary
		}
		c.timeout = timeout
		c.client = &http.Client{Timeout: timeout}
		if c.Log == nil {
			c.Log = logrus.StandardLogger()
		}
	})
}

// Fetch downloads the data of txid, which the gateway sends base64url
// encoded.
func (c *Connection) Fetch(ctx context.Context, txid string) (*Data, error) {
	if err := checkID(txid); err != nil {
		return nil, err
	}
	c.init()
	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := c.group.Do(txid, func() (interface{}, error) {
			fctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			return c.fetch(fctx, txid)
		})
		done <- result{v, err}
	}()
	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrapf(ErrTimeout, "fetch %s", txid)
		}
		return nil, errors.Wrapf(ctx.Err(), "fetch %s", txid)
	}
	if res.err != nil {
		return nil, res.err
	}
	// the bytes are shared by every caller of this flight, which is fine
	// since nobody writes to them
	return &Data{Bytes: res.v.([]byte)}, nil
}

func (c *Connection) fetch(ctx context.Context, txid string) ([]byte, error) {
	body, err := c.get(ctx, "/tx/"+txid+"/data")
	if err != nil {
		return nil, err
	}
	raw, err := decodeBody(body)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "decode %s: %s", txid, err)
	}
	if c.CheckSize {
		size, err := c.Info(ctx, txid)
		if err != nil {
			c.Log.WithField("txid", txid).WithError(err).Warn("no data size to check against")
		} else if size != int64(len(raw)) {
			return nil, errors.Wrapf(ErrNetwork, "%s: received %d bytes, gateway reports %d", txid, len(raw), size)
		}
	}
	c.Log.WithFields(logrus.Fields{"txid": txid, "bytes": len(raw)}).Debug("fetched")
	return raw, nil
}

// decodeBody accepts base64url with or without padding. Gateways are not
// consistent about trailing newlines either.
func decodeBody(body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimRight(body, "=")
	out := make([]byte, base64.RawURLEncoding.DecodedLen(len(body)))
	n, err := base64.RawURLEncoding.Decode(out, body)
	return out[:n], err
}

// Info returns the data_size the gateway records for txid.
func (c *Connection) Info(ctx context.Context, txid string) (int64, error) {
	if err := checkID(txid); err != nil {
		return 0, err
	}
	c.init()
	body, err := c.get(ctx, "/tx/"+txid)
	if err != nil {
		return 0, err
	}
	v, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return 0, errors.Wrapf(ErrNetwork, "tx %s: %s", txid, err)
	}
	// data_size is a decimal string in the Arweave API
	if s, err := v.GetString("data_size"); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	return v.GetInt64("data_size")
}

// get performs a GET and returns the body of a 200 response. Everything
// else is turned into one of our errors.
func (c *Connection) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.HostURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(ErrNetwork, err.Error())
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classify(ctx, path, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
	case 404:
		return nil, errors.Wrap(ErrNotFound, path)
	default:
		err = errors.Wrapf(ErrNetwork, "received status %d for %s", resp.StatusCode, path)
		c.Log.WithField("path", path).Warn(err)
		return nil, err
	}
	body, err := ioutil.ReadAll(c.Rate.Wrap(ctx, resp.Body))
	if err != nil {
		return nil, c.classify(ctx, path, err)
	}
	return body, nil
}

func (c *Connection) classify(ctx context.Context, path string, err error) error {
	if ctx.Err() == context.Canceled {
		return errors.Wrap(ctx.Err(), path)
	}
	var ne net.Error
	if ctx.Err() == context.DeadlineExceeded ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return errors.Wrapf(ErrTimeout, "%s: %s", path, err)
	}
	raven.CaptureError(err, map[string]string{"gateway": c.HostURL, "path": path})
	return errors.Wrapf(ErrNetwork, "%s: %s", path, err)
}
