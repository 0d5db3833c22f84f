package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"time"

	datasource "market-streamer/src/data_source"
	"market-streamer/src/helpers"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/gorilla/websocket"
)

const (
	streamHost        = "stream.data.alpaca.markets"
	sandboxStreamHost = "stream.data.sandbox.alpaca.markets"
)

func init() {
	datasource.MustRegister("alpaca", NewFactory)
}

// -----------------------------------------------------------------------------

// Factory opens authenticated vendor sessions for one asset class.
type Factory struct {
	Config           *models.MAssetClassConfig
	Logger           *logger.Logger
	Endpoint         string
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	codec            codec
}

// NewFactory matches interfaces.ISessionConstructor.
func NewFactory(cfg *models.MAssetClassConfig, log *logger.Logger) (interfaces.ISessionFactory, error) {
	c, err := newCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	handshake := time.Duration(cfg.HandshakeTimeoutSeconds) * time.Second
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	ping := time.Duration(cfg.PingPeriodSeconds) * time.Second
	if ping <= 0 {
		ping = 54 * time.Second
	}

	return &Factory{
		Config:           cfg,
		Logger:           log,
		Endpoint:         Endpoint(cfg),
		Dialer:           &websocket.Dialer{HandshakeTimeout: handshake, Proxy: http.ProxyFromEnvironment},
		HandshakeTimeout: handshake,
		PingPeriod:       ping,
		codec:            c,
	}, nil
}

// Endpoint resolves the stream URL of an asset class.
func Endpoint(cfg *models.MAssetClassConfig) string {
	if cfg.URLOverride != "" {
		return cfg.URLOverride
	}

	host := streamHost
	if cfg.Sandbox {
		host = sandboxStreamHost
	}

	if models.AssetClass(cfg.Name) == models.AssetClassCrypto {
		return fmt.Sprintf("wss://%s/v1beta3/crypto/us", host)
	}

	feed := cfg.Feed
	if feed == "" {
		feed = "iex"
	}
	return fmt.Sprintf("wss://%s/v2/%s", host, feed)
}

// -----------------------------------------------------------------------------

// Open dials the stream and authenticates. Rejections are *helpers.ConnectionError.
func (f *Factory) Open(ctx context.Context, assetClass models.AssetClass, creds models.MCredentials) (interfaces.ISession, error) {
	if creds.IsZero() {
		return nil, helpers.NewConnectionError("missing vendor credentials", codeAuthFailed, nil)
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if ct := f.codec.ContentType(); ct != "" {
		header.Set("Content-Type", ct)
	}

	conn, resp, err := f.Dialer.DialContext(dialCtx, f.Endpoint, header)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		return nil, helpers.NewConnectionError(fmt.Sprintf("dial %s", f.Endpoint), code, err)
	}

	if err := f.handshake(conn, creds); err != nil {
		conn.Close()
		return nil, err
	}

	f.Logger.Info("%s : authenticated on %s (codec %s)", assetClass, f.Endpoint, f.codec.Name())
	return newSession(conn, f.codec, assetClass, f.PingPeriod, f.Logger), nil
}

func (f *Factory) handshake(conn *websocket.Conn, creds models.MCredentials) error {
	conn.SetReadDeadline(time.Now().Add(f.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	if err := f.expect(conn, ctlConnected); err != nil {
		return err
	}

	auth, err := f.codec.Marshal(authRequest{Action: "auth", Key: creds.APIKey, Secret: creds.APISecret})
	if err != nil {
		return helpers.NewConnectionError("encode auth", 0, err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(f.codec.MessageType(), auth); err != nil {
		return helpers.NewConnectionError("send auth", 0, err)
	}

	return f.expect(conn, ctlAuthenticated)
}

// expect reads one control frame and requires a success message with want.
func (f *Factory) expect(conn *websocket.Conn, want string) error {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return helpers.NewConnectionError(fmt.Sprintf("waiting for '%s'", want), 0, err)
	}

	elements, err := f.codec.Split(frame)
	if err != nil {
		return helpers.NewConnectionError("undecodable handshake frame", 0, err)
	}

	for _, el := range elements {
		var ctl wireControl
		if err := f.codec.Unmarshal(el, &ctl); err != nil {
			return helpers.NewConnectionError("undecodable handshake message", 0, err)
		}

		switch ctl.T {
		case msgSuccess:
			if ctl.Msg == want {
				return nil
			}
		case msgError:
			if ctl.Code == codeConnectionLimit {
				return helpers.NewConnectionError(ctl.Msg, ctl.Code, helpers.ErrConnectionLimitExceeded)
			}
			return helpers.NewConnectionError(fmt.Sprintf("vendor rejected handshake: %s", ctl.Msg), ctl.Code, nil)
		}
	}

	return helpers.NewConnectionError(fmt.Sprintf("expected '%s'", want), 0, nil)
}
