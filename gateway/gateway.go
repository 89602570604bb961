// Package gateway talks to the upstream identity provider that runs the
// OTP and Google flows, and translates its envelopes into
// identity.ExternalIdentity values. Nothing outside this package depends
// on the upstream wire format.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-identity"
)

const (
	DefaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

// Config is read on every call so changes apply without a restart
type Config interface {
	GetExternalAuthBaseURL() string
	GetExternalAuthTimeout() time.Duration
}

// ClientFactory returns the HTTP client owned by a single call
type ClientFactory func(timeout time.Duration) *http.Client

// Gateway is safe for concurrent use. It keeps no connection state
// between calls.
type Gateway struct {
	config       Config
	logger       identity.Logger
	newClient    ClientFactory
	maxBodyBytes int64
}

// New creates a Gateway reading base URL and timeout from cfg
func New(cfg Config) *Gateway {
	return &Gateway{
		config:       cfg,
		logger:       identity.NewZapLogger(nil),
		newClient:    defaultClient,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// WithLogger sets the logger, nil keeps the current one
func (g *Gateway) WithLogger(logger identity.Logger) *Gateway {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithClientFactory overrides how the per call client is built
func (g *Gateway) WithClientFactory(f ClientFactory) *Gateway {
	if f != nil {
		g.newClient = f
	}
	return g
}

// WithMaxBodyBytes caps how much of an upstream body is read
func (g *Gateway) WithMaxBodyBytes(n int64) *Gateway {
	if n > 0 {
		g.maxBodyBytes = n
	}
	return g
}

// defaultClient builds a client with its own transport so that closing
// idle connections after the call releases everything the call opened.
func defaultClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// envelope is the upstream success shape: {"data": {...}, "message": "..."}
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message *string         `json:"message"`
}

func (e envelope) message(def string) string {
	if e.Message == nil || strings.TrimSpace(*e.Message) == "" {
		return def
	}
	return *e.Message
}

type errorEnvelope struct {
	Message string `json:"message"`
}

type operation struct {
	name           string
	path           string
	failureMessage string
	errorPrefix    string
}

var (
	opSendOTP = operation{
		name:           "send_otp",
		path:           "send-otp",
		failureMessage: "Failed to send OTP",
		errorPrefix:    "Error sending OTP",
	}
	opVerifyOTP = operation{
		name:           "verify_otp",
		path:           "verify-otp",
		failureMessage: "Failed to verify OTP",
		errorPrefix:    "Error verifying OTP",
	}
	opGoogle = operation{
		name:           "google",
		path:           "google",
		failureMessage: "Failed to authenticate with Google",
		errorPrefix:    "Error authenticating with Google",
	}
)

// failure is the outcome of a call that did not produce a usable envelope
type failure struct {
	message string
	err     error
}

// post sends payload to the operation endpoint and returns the decoded
// success envelope. Every failure is converted to a failure value; post
// never returns a raw transport error.
func (g *Gateway) post(ctx context.Context, op operation, payload any, affiliateCode string) (*envelope, *failure) {
	base := strings.TrimRight(strings.TrimSpace(g.config.GetExternalAuthBaseURL()), "/")
	if base == "" {
		return nil, g.transportFailure(op, &UpstreamError{Operation: op.name, Description: "base url not configured"})
	}

	timeout := g.config.GetExternalAuthTimeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := url.Parse(base + "/" + op.path)
	if err != nil {
		return nil, g.transportFailure(op, &UpstreamError{Operation: op.name, Description: "invalid base url", Err: err})
	}
	if affiliateCode != "" {
		q := endpoint.Query()
		q.Set("ref", affiliateCode)
		endpoint.RawQuery = q.Encode()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, g.transportFailure(op, &UpstreamError{Operation: op.name, Description: "encode request", Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, g.transportFailure(op, &UpstreamError{Operation: op.name, Description: "build request", Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := g.newClient(timeout)
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, g.transportFailure(op, &UpstreamError{Operation: op.name, Timeout: isTimeout(ctx, err), Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBodyBytes))
	if err != nil {
		return nil, g.transportFailure(op, &UpstreamError{Operation: op.name, Status: resp.StatusCode, Timeout: isTimeout(ctx, err), Err: err})
	}

	if resp.StatusCode != http.StatusOK {
		var errEnv errorEnvelope
		_ = json.Unmarshal(raw, &errEnv)
		msg := strings.TrimSpace(errEnv.Message)
		if msg == "" {
			msg = op.failureMessage
		}
		uerr := &UpstreamError{Operation: op.name, Status: resp.StatusCode, Description: msg}
		g.logger.Warn("%s rejected with status %d: %s", op.name, resp.StatusCode, msg)
		return nil, &failure{message: msg, err: wrapUpstreamError(ErrUpstreamRejected, uerr)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, g.malformed(op, resp.StatusCode, "decode envelope", err)
	}
	return &env, nil
}

func (g *Gateway) transportFailure(op operation, uerr *UpstreamError) *failure {
	reason := "upstream unreachable"
	if uerr.Timeout {
		reason = "request timed out"
	} else if uerr.Description != "" {
		reason = uerr.Description
	}
	g.logger.Error("%s: %v", op.errorPrefix, uerr)
	return &failure{
		message: op.errorPrefix + ": " + reason,
		err:     wrapUpstreamError(ErrTransportFailure, uerr),
	}
}

func (g *Gateway) malformed(op operation, status int, desc string, err error) *failure {
	uerr := &UpstreamError{Operation: op.name, Status: status, Description: desc, Err: err}
	g.logger.Error("%s: %v", op.errorPrefix, uerr)
	return &failure{
		message: op.errorPrefix + ": malformed upstream response",
		err:     wrapUpstreamError(ErrMalformedResponse, uerr),
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decodeData unmarshals the envelope data object into dst. A missing or
// null data object is malformed for operations that need one.
func decodeData(env *envelope, dst any) error {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errors.New("missing data object")
	}
	return json.Unmarshal(data, dst)
}
