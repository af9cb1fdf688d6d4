// Package tradelocker is a client for the TradeLocker broker REST API. It
// handles authentication and transparent token refresh, instrument and route
// lookup, market data, order placement and position management.
package tradelocker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"tradelocker/config"
	"tradelocker/pkg/diskcache"
	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/logging"
	"tradelocker/pkg/rest"
	"tradelocker/pkg/telemetry"
)

// staticDataTTL is how long configuration, instrument and account lists are
// kept before they are re-fetched.
const staticDataTTL = 24 * time.Hour

// Client is a session-bound TradeLocker API client. A Client is safe for
// concurrent use; the session state is internally synchronized.
type Client struct {
	cfg  *config.Config
	rest *rest.Client
	log  logging.Logger

	sessionMu    sync.Mutex
	session      session
	refreshGroup singleflight.Group

	accountID   int64
	accNum      int64
	accountName string

	brokerCfg   *memo[*BrokerConfig]
	instruments *memo[[]Instrument]
	accounts    *memo[[]Account]

	routeMu sync.Mutex
	routes  map[int64]int64 // instrument id -> validated INFO route id

	history    *diskcache.Cache
	metricsSrv *http.Server
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger replaces the logger built from the configured log level.
func WithLogger(log logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New authenticates against the configured broker environment and binds the
// client to one trading account. The context bounds the login and account
// discovery calls.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		brokerCfg:   newMemo[*BrokerConfig]("config", staticDataTTL),
		instruments: newMemo[[]Instrument]("instruments", staticDataTTL),
		accounts:    newMemo[[]Account]("accounts", staticDataTTL),
		routes:      make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		logger, err := logging.NewZapLogger(cfg.System.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		c.log = logger
	}

	c.rest = rest.NewClient(cfg.BaseURL(), c, rest.Options{
		Timeout:       cfg.HTTP.Timeout,
		RateLimit:     rate.Limit(cfg.HTTP.RateLimitPerSec),
		RateBurst:     cfg.HTTP.RateLimitBurst,
		SkipTLSVerify: cfg.HTTP.SkipTLSVerify,
		Attribution: map[string]string{
			"ref": refValue,
			"v":   Version,
		},
		Logger: c.log,
	})

	if cfg.Credentials.AccessToken != "" {
		c.session.adopt(cfg.Credentials.AccessToken.Reveal(), cfg.Credentials.RefreshToken.Reveal())
	} else if err := c.login(ctx); err != nil {
		return nil, err
	}

	if err := c.selectAccount(ctx, cfg.Account.ID, cfg.Account.AccNum); err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		history, err := diskcache.New(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open history cache: %w", err)
		}
		c.history = history
	}

	if cfg.Telemetry.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		c.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
			Handler: mux,
		}
		go func() {
			if err := c.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("metrics listener stopped", "error", err)
			}
		}()
		c.log.Info("serving prometheus metrics", "port", cfg.Telemetry.MetricsPort)
	}

	return c, nil
}

// InvalidateCaches drops the memoized broker configuration, instrument and
// account data and the validated route table. The next call re-fetches them.
func (c *Client) InvalidateCaches() {
	c.brokerCfg.invalidate()
	c.instruments.invalidate()
	c.accounts.invalidate()

	c.routeMu.Lock()
	c.routes = make(map[int64]int64)
	c.routeMu.Unlock()
}

// Close releases client resources. It does not invalidate the broker session.
func (c *Client) Close() error {
	var errs []error
	if c.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.history != nil {
		if err := c.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AccountID returns the id of the account the client is bound to.
func (c *Client) AccountID() int64 { return c.accountID }

// AccNum returns the account number the client is bound to.
func (c *Client) AccNum() int64 { return c.accNum }

// AccountName returns the display name of the bound account.
func (c *Client) AccountName() string { return c.accountName }

// selectAccount binds the client to one of the user's accounts. With both
// selectors zero the first account is used.
func (c *Client) selectAccount(ctx context.Context, accountID, accNum int64) error {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return &apperrors.AuthError{Op: "select account", Err: fmt.Errorf("no accounts found")}
	}

	switch {
	case accountID != 0:
		for _, a := range accounts {
			if a.ID == accountID {
				c.accountID, c.accNum, c.accountName = a.ID, a.AccNum, a.Name
				c.log.Debug("using configured account id", "account_id", a.ID, "acc_num", a.AccNum)
				return nil
			}
		}
		return fmt.Errorf("%w: account id %d not found", apperrors.ErrInvalidArgument, accountID)
	case accNum != 0:
		for _, a := range accounts {
			if a.AccNum == accNum {
				c.accountID, c.accNum, c.accountName = a.ID, a.AccNum, a.Name
				c.log.Debug("using configured acc_num", "account_id", a.ID, "acc_num", a.AccNum)
				return nil
			}
		}
		return fmt.Errorf("%w: acc_num %d not found", apperrors.ErrInvalidArgument, accNum)
	default:
		a := accounts[0]
		c.accountID, c.accNum, c.accountName = a.ID, a.AccNum, a.Name
		c.log.Debug("no account configured, using the first one", "account_id", a.ID, "acc_num", a.AccNum)
		return nil
	}
}
