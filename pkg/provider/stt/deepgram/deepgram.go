// Package deepgram connects to the Deepgram streaming listen API and decodes
// its messages. It implements the stt.Dialer interface.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/scriptcue/pkg/provider/stt"
)

const (
	// DefaultEndpoint is the public streaming listen endpoint.
	DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultEncoding   = "linear16"
	defaultSampleRate = 16000
)

var (
	keepAliveMsg   = []byte(`{"type":"` + TypeKeepAlive + `"}`)
	closeStreamMsg = []byte(`{"type":"` + string(TypeCloseStream) + `"}`)
)

// Option is a functional option for configuring the Deepgram Client.
type Option func(*Client)

// WithEndpoint overrides the listen endpoint, e.g. to point at a local test
// server. Both ws(s) and http(s) schemes are accepted.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en-US").
func WithLanguage(language string) Option {
	return func(c *Client) {
		c.language = language
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client dials Deepgram streaming sessions.
type Client struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Deepgram Client. It returns [stt.ErrMissingAPIKey] when
// apiKey is empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: %w", stt.ErrMissingAPIKey)
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dial opens a streaming session. The returned upstream is open; closing it is
// the caller's responsibility.
func (c *Client) Dial(ctx context.Context, cfg stt.StreamConfig) (stt.Upstream, error) {
	wsURL, err := c.BuildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	// Results can be large with word timings enabled.
	conn.SetReadLimit(1 << 20)
	return &upstream{conn: conn}, nil
}

// BuildURL constructs the streaming endpoint URL for cfg.
func (c *Client) BuildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}

	model := cfg.Model
	if model == "" {
		model = c.model
	}
	lang := cfg.Language
	if lang == "" {
		lang = c.language
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = defaultEncoding
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch == 0 {
		ch = 1
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(ch))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	if cfg.Punctuate {
		q.Set("punctuate", "true")
	}
	if cfg.SmartFormat {
		q.Set("smart_format", "true")
	}
	if cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(cfg.Endpointing.Milliseconds(), 10))
	}
	if cfg.UtteranceEnd > 0 {
		q.Set("utterance_end_ms", strconv.FormatInt(cfg.UtteranceEnd.Milliseconds(), 10))
	}
	if cfg.VADEvents {
		q.Set("vad_events", "true")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// upstream is a live Deepgram socket. It implements stt.Upstream.
type upstream struct {
	conn   *websocket.Conn
	once   sync.Once
	closed atomic.Bool
}

// SendAudio forwards one PCM frame as a binary message.
func (u *upstream) SendAudio(ctx context.Context, frame []byte) error {
	return u.write(ctx, websocket.MessageBinary, frame)
}

// KeepAlive sends the keepalive control message.
func (u *upstream) KeepAlive(ctx context.Context) error {
	return u.write(ctx, websocket.MessageText, keepAliveMsg)
}

// CloseStream asks Deepgram to flush and finish the stream.
func (u *upstream) CloseStream(ctx context.Context) error {
	return u.write(ctx, websocket.MessageText, closeStreamMsg)
}

func (u *upstream) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if u.closed.Load() {
		return fmt.Errorf("deepgram: write: %w", stt.ErrClosed)
	}
	if err := u.conn.Write(ctx, typ, data); err != nil {
		if u.closed.Load() {
			return fmt.Errorf("deepgram: write: %w: %w", stt.ErrClosed, err)
		}
		return fmt.Errorf("deepgram: write: %w", err)
	}
	return nil
}

// Read returns the next text message, skipping binary ones.
func (u *upstream) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, msg, err := u.conn.Read(ctx)
		if err != nil {
			if u.closed.Load() {
				return nil, fmt.Errorf("deepgram: read: %w: %w", stt.ErrClosed, err)
			}
			return nil, err
		}
		if typ == websocket.MessageText {
			return msg, nil
		}
	}
}

// Close performs the close handshake. Later reads and writes return
// [stt.ErrClosed].
func (u *upstream) Close() error {
	var err error
	u.once.Do(func() {
		u.closed.Store(true)
		err = u.conn.Close(websocket.StatusNormalClosure, "stream finished")
	})
	return err
}

// Abort drops the connection immediately.
func (u *upstream) Abort() error {
	var err error
	u.once.Do(func() {
		u.closed.Store(true)
		err = u.conn.CloseNow()
	})
	return err
}

// Ensure Client implements stt.Dialer at compile time.
var _ stt.Dialer = (*Client)(nil)
