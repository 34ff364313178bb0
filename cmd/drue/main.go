// The drue command receives Gmail push notifications and logs the
// messages they announce.  It also manages the stored Gmail
// credentials and watches the server acts on.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/silverbook-inc/drue/internal/config"
	"github.com/silverbook-inc/drue/internal/credential"
	"github.com/silverbook-inc/drue/internal/gmail"
	"github.com/silverbook-inc/drue/internal/logging"
	"github.com/silverbook-inc/drue/internal/oauth"
	"github.com/silverbook-inc/drue/internal/sync"
	"github.com/silverbook-inc/drue/internal/tracehttp"
	"github.com/silverbook-inc/drue/internal/watch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *zap.SugaredLogger

	store       credential.Store
	storeCloser io.Closer
}

func (a *app) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	level := cfg.Log.Level
	if cfg.Trace {
		level = "debug"
	}
	a.log, err = logging.New(level, cfg.Log.Dev)
	if err != nil {
		return err
	}
	a.store, a.storeCloser, err = openStore(cmd.Context(), cfg.Store)
	return err
}

func (a *app) close() {
	if a.storeCloser != nil {
		a.storeCloser.Close()
	}
	if a.log != nil {
		a.log.Sync()
	}
}

// transport is the base of every outbound request.
func (a *app) transport() http.RoundTripper {
	if a.cfg.Trace {
		return tracehttp.Wrap(http.DefaultTransport, a.log.Named("http"))
	}
	return http.DefaultTransport
}

func (a *app) pipeline() *sync.Pipeline {
	client := gmail.NewClient(a.cfg.Gmail.Endpoint, a.transport())
	return &sync.Pipeline{
		Store: a.store,
		Exchanger: oauth.NewExchanger(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret,
			a.cfg.Google.TokenURL, &http.Client{Transport: a.transport()}),
		Dialer: sync.DialerFunc(func(ctx context.Context, bearer string) (sync.MessageStorage, error) {
			return client.Dial(ctx, bearer)
		}),
		Sink: sync.LogSink{Log: a.log.Named("gmail_pubsub")},
		Log:  a.log.Named("gmail_pubsub"),
	}
}

func (a *app) watches(p *sync.Pipeline) *watch.Lifecycle {
	return &watch.Lifecycle{
		Connector: p,
		Topic:     a.cfg.Gmail.Topic,
		Labels:    a.cfg.Gmail.Labels,
		Log:       a.log.Named("gmail_watch"),
	}
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:           "drue",
		Short:         "Gmail push notification receiver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.BoolP("trace", "T", false, "request debug tracing")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.Bool("log-dev", false, "human readable console logs")
	pf.String("store", "", "credential store: file:<path>, sqlite:<path>, keyring:<service> or memory:")
	for key, flag := range map[string]string{
		"trace":     "trace",
		"log.level": "log-level",
		"log.dev":   "log-dev",
		"store.dsn": "store",
	} {
		a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		newServeCmd(a),
		newTokenCmd(a),
		newListCmd(a),
		newWatchCmd(a),
		newJWTCmd(a),
	)
	return root, a
}

func main() {
	root, a := newRootCmd()
	err := root.Execute()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
