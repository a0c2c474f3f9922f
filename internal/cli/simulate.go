// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markobbzbl/sportbuddy-mobile-1/app"
	"github.com/markobbzbl/sportbuddy-mobile-1/auth"
	"github.com/markobbzbl/sportbuddy-mobile-1/connectivity"
	"github.com/markobbzbl/sportbuddy-mobile-1/kvstore"
	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
	"github.com/markobbzbl/sportbuddy-mobile-1/session"
)

// Remote backends for simulate.
const (
	RemoteMemory = "memory"
	RemoteHTTP   = "http"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Remote   string
	Scenario string
	DataFile string
	UserID   string
	DeviceID string
	Password string
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a device through offline/online scenarios",
		Long: `Run a simulated device through scenarios that toggle connectivity while the user
keeps changing data, then check that the queue drains and the list converges.

Scenarios: offline-online, delete-offline, retry-exhaustion (memory remote only), all.

Examples:
  sportbuddy simulate --scenario offline-online
  sportbuddy simulate --remote http --scenario all --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", RemoteMemory, "remote backend (memory|http)")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "offline-online", "scenario to run, or all")
	cmd.Flags().StringVar(&opts.DataFile, "data", "", "device database file (default: temporary)")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (overrides client.user_id)")
	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "device id (overrides client.device_id)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password for sign-in against the http remote")
	return cmd
}

// device is one simulated phone.
type device struct {
	app   *app.App
	src   *connectivity.ManualSource
	mem   *remote.Memory // nil for the http remote
	store *kvstore.SQLite
}

func (d *device) setOnline(online bool) {
	d.src.Set(online)
	d.app.Wait()
}

func (d *device) close() {
	d.app.Close()
	_ = d.store.Close()
}

func (o *SimulateOptions) user() (string, string) {
	userID, deviceID := o.UserID, o.DeviceID
	if userID == "" {
		userID = o.Config.Client.UserID
	}
	if userID == "" {
		userID = "demo-user"
	}
	if deviceID == "" {
		deviceID = o.Config.Client.DeviceID
	}
	return userID, deviceID
}

func newDevice(ctx context.Context, opts *SimulateOptions, dataFile string, logger *slog.Logger) (*device, error) {
	store, err := kvstore.OpenSQLite(dataFile)
	if err != nil {
		return nil, err
	}
	if err := store.Clear(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	d := &device{src: connectivity.NewManualSource(false), store: store}
	var service remote.Service
	var sess *session.Session
	switch opts.Remote {
	case RemoteMemory:
		d.mem = remote.NewMemory()
		service = d.mem
		issuer := session.LocalIssuer{Auth: auth.NewJWTAuth(opts.Config.Server.JWTSecret), TTL: opts.Config.Server.TokenTTL.Std()}
		sess = session.New(issuer, store, logger.With("component", "session"))
	case RemoteHTTP:
		client := remote.NewHTTPClient(opts.Config.Client.ServerURL, nil)
		sess = session.New(session.RemoteIssuer{Client: client, Password: opts.Password}, store, logger.With("component", "session"))
		client.Token = sess.Token
		service = client
	default:
		_ = store.Close()
		return nil, fmt.Errorf("unknown remote %q: must be %s or %s", opts.Remote, RemoteMemory, RemoteHTTP)
	}

	userID, deviceID := opts.user()
	if err := sess.SignIn(ctx, userID, deviceID); err != nil {
		_ = store.Close()
		return nil, err
	}

	syncCfg := opts.Config.Sync
	d.app, err = app.New(ctx, app.Options{
		Store:   store,
		Service: service,
		Source:  d.src,
		Session: sess,
		Connectivity: &connectivity.Config{
			PollInterval: syncCfg.PollInterval.Std(),
			ProbeTimeout: syncCfg.ProbeTimeout.Std(),
		},
		PulseReset: syncCfg.PulseReset.Std(),
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	d.app.Start(ctx)
	return d, nil
}

func runSimulate(ctx context.Context, out io.Writer, opts *SimulateOptions) error {
	selected, err := selectScenarios(opts.Scenario)
	if err != nil {
		return err
	}

	dataFile := opts.DataFile
	if dataFile == "" {
		dir, err := os.MkdirTemp("", "sportbuddy-sim-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dataFile = filepath.Join(dir, "device.db")
	}

	var reports []*Report
	var failed int
	for _, sc := range selected {
		rep := &Report{Scenario: sc.name, Description: sc.description, Remote: opts.Remote}
		reports = append(reports, rep)
		if sc.memoryOnly && opts.Remote != RemoteMemory {
			rep.Skipped = true
			continue
		}

		logger := opts.Logger.With("scenario", sc.name)
		d, err := newDevice(ctx, opts, dataFile, logger)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", sc.name, err)
		}
		err = sc.run(ctx, d, rep)
		d.close()

		rep.Passed = err == nil
		if err != nil {
			rep.Error = err.Error()
			failed++
		}
	}

	if err := writeReports(out, opts.Format, reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(selected))
	}
	return nil
}

// Step is the device state after one scenario step.
type Step struct {
	Name     string   `json:"name"`
	Online   bool     `json:"online"`
	Pending  int      `json:"pending"`
	Banner   string   `json:"banner,omitempty"`
	Offers   []string `json:"offers"`
	Warnings []string `json:"warnings,omitempty"`
}

// Report is the outcome of one scenario.
type Report struct {
	Scenario    string `json:"scenario"`
	Description string `json:"description"`
	Remote      string `json:"remote"`
	Steps       []Step `json:"steps"`
	Passed      bool   `json:"passed"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (r *Report) record(name string, d *device) {
	st := d.app.State()
	offers := d.app.Offers()
	step := Step{
		Name:     name,
		Online:   st.Online,
		Pending:  st.Pending,
		Banner:   st.Banner,
		Offers:   make([]string, 0, len(offers)),
		Warnings: st.Warnings,
	}
	for _, o := range offers {
		label := o.ID + " " + o.SportType
		if o.State == model.SyncPending {
			label += " (pending)"
		}
		step.Offers = append(step.Offers, label)
	}
	r.Steps = append(r.Steps, step)
}

func writeReports(out io.Writer, format string, reports []*Report) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, r := range reports {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "- %s: skipped (needs the memory remote)\n", r.Scenario)
			continue
		case r.Passed:
			fmt.Fprintf(out, "✓ %s: %s\n", r.Scenario, r.Description)
		default:
			fmt.Fprintf(out, "✗ %s: %s\n", r.Scenario, r.Error)
		}
		for _, s := range r.Steps {
			status := "offline"
			if s.Online {
				status = "online"
			}
			fmt.Fprintf(out, "  %-22s %-7s pending=%d offers=%v\n", s.Name, status, s.Pending, s.Offers)
			for _, w := range s.Warnings {
				fmt.Fprintf(out, "    warning: %s\n", w)
			}
		}
	}
	return nil
}
