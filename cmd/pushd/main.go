// Command pushd runs the Web Push delivery server and its operator tools.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	webpush "github.com/maicoln90cpu/boardmd-sub001"
	"github.com/maicoln90cpu/boardmd-sub001/api"
	"github.com/maicoln90cpu/boardmd-sub001/diag"
	"github.com/maicoln90cpu/boardmd-sub001/keys"
	"github.com/maicoln90cpu/boardmd-sub001/storage"
)

// Config is the environment configuration for the server.
type Config struct {
	Port int `env:"PORT, default=8080"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY, required"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY, required"`
	VAPIDEmail      string `env:"VAPID_EMAIL, required"`

	// When set, VAPID tokens are signed by this Cloud KMS key instead of
	// VAPID_PRIVATE_KEY.
	VAPIDKMSKey string `env:"VAPID_KMS_KEY"`

	DBPath   string        `env:"PUSH_DB_PATH, default=push.db"`
	Timeout  time.Duration `env:"PUSH_TIMEOUT, default=10s"`
	Retry5xx int           `env:"PUSH_RETRY_5XX, default=0"`
}

func (c *Config) subject() string {
	return "mailto:" + c.VAPIDEmail
}

func main() {
	ctx := clog.WithLogger(context.Background(), clog.DefaultLogger())

	root := &cobra.Command{
		Use:           "pushd",
		Short:         "Web Push delivery server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newKeygenCommand())
	root.AddCommand(newValidateCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		clog.FromContext(ctx).Errorf("%v", err)
		os.Exit(1)
	}
}

func loadConfig(ctx context.Context) (*Config, error) {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return &cfg, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the push API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := clog.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			signer, cleanup, err := buildSigner(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := storage.NewSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer store.Close()

			client, err := webpush.NewClient(signer, cfg.subject())
			if err != nil {
				return fmt.Errorf("creating push client: %w", err)
			}
			client = client.
				WithHTTPClient(&http.Client{Timeout: cfg.Timeout}).
				WithRegistry(store).
				WithOutcomeLogger(store).
				WithRetry5xx(cfg.Retry5xx)

			a := &api.API{
				Client:     client,
				Store:      store,
				PublicKey:  cfg.VAPIDPublicKey,
				PrivateKey: cfg.VAPIDPrivateKey,
				Subject:    cfg.subject(),
			}
			handler := a.RegisterHandlers(http.NewServeMux())

			addr := fmt.Sprintf(":%d", cfg.Port)
			log.Infof("pushd listening on %s (db %s)", addr, cfg.DBPath)
			srv := &http.Server{
				Addr:        addr,
				Handler:     handler,
				BaseContext: func(net.Listener) context.Context { return ctx },
			}
			return srv.ListenAndServe()
		},
	}
}

// buildSigner selects the VAPID signer: Cloud KMS when configured, the
// local private key otherwise.
func buildSigner(ctx context.Context, cfg *Config) (webpush.Signer, func(), error) {
	if cfg.VAPIDKMSKey != "" {
		signer, err := keys.NewKMSSigner(ctx, cfg.VAPIDKMSKey)
		if err != nil {
			return nil, nil, fmt.Errorf("creating KMS signer: %w", err)
		}
		clog.FromContext(ctx).Infof("signing VAPID tokens with KMS key %s", cfg.VAPIDKMSKey)
		return signer, func() { signer.Close() }, nil
	}

	signer, err := keys.NewLocalSigner(cfg.VAPIDPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("loading VAPID private key: %w", err)
	}
	return signer, func() {}, nil
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new VAPID key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			privB64, pubB64, err := keys.Generate()
			if err != nil {
				return fmt.Errorf("generating key pair: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pubB64, privB64)
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configured VAPID keys without sending anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			report := diag.ValidateVAPID(ctx, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.subject())
			fmt.Fprintf(cmd.OutOrStdout(),
				"valid: %t\npublic key length: %d\nprivate key length: %d\njwt valid: %t\n",
				report.Valid, report.PublicKeyLength, report.PrivateKeyLength, report.JWTValid)
			if !report.Valid {
				return fmt.Errorf("VAPID configuration is invalid")
			}
			return nil
		},
	}
}
