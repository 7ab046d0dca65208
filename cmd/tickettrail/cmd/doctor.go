package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/adapters/browser"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/diagnostics"
)

var (
	doctorInstall bool
	doctorJSON    bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and host readiness",
	Long: `Validate the configuration, the credentials file and the state directory,
report whether a runner holds the lock and answers on the API, and check
the host has the memory and disk a browser session needs.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorInstall, "install-browsers", false, "download the Playwright driver and Chromium first")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print checks as JSON")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if doctorInstall {
		if !doctorJSON {
			fmt.Fprintln(out, "Installing Playwright driver and Chromium...")
		}
		if err := browser.Install(); err != nil {
			return fmt.Errorf("installing browsers: %w", err)
		}
	}

	checks, cfg := configChecks()
	if cfg != nil {
		checks = append(checks, runtimeChecks(ctx, cfg)...)

		profile := cfg.Browser.UserDataDir
		if profile == "" {
			profile = browser.DefaultConfig().UserDataDir
		}
		info := diagnostics.NewProbe().Collect(ctx, filepath.Dir(cfg.State.Path), profile)
		checks = append(checks, diagnostics.Evaluate(info, diagnostics.DefaultLimits())...)
	}

	if doctorJSON {
		if err := outputJSON(out, checks); err != nil {
			return err
		}
	} else {
		printChecks(out, newStyles(noColor), checks)
	}

	if diagnostics.Worst(checks) == diagnostics.StatusFail {
		return errors.New("doctor found problems")
	}
	return nil
}

// configChecks validates the configuration with the runner's requirements.
// The config is nil when it could not be loaded at all.
func configChecks() ([]diagnostics.Check, *config.Config) {
	cfg, err := config.NewLoaderWithViper(viper.GetViper()).WithConfigFile(cfgFile).Load()
	if err != nil {
		return []diagnostics.Check{{Name: "config", Status: diagnostics.StatusFail, Detail: err.Error()}}, nil
	}
	err = config.NewValidator().RequireRuntime().Validate(cfg)
	var verrs config.ValidationErrors
	switch {
	case err == nil:
		return []diagnostics.Check{{Name: "config", Status: diagnostics.StatusOK, Detail: "valid"}}, cfg
	case errors.As(err, &verrs):
		checks := make([]diagnostics.Check, 0, len(verrs))
		for _, ve := range verrs {
			checks = append(checks, diagnostics.Check{Name: "config", Status: diagnostics.StatusFail, Detail: ve.Error()})
		}
		return checks, cfg
	default:
		return []diagnostics.Check{{Name: "config", Status: diagnostics.StatusFail, Detail: err.Error()}}, cfg
	}
}

func runtimeChecks(ctx context.Context, cfg *config.Config) []diagnostics.Check {
	var checks []diagnostics.Check

	creds := diagnostics.Check{Name: "credentials", Status: diagnostics.StatusOK}
	if cfg.Sheets.CredentialsFile == "" {
		creds.Status = diagnostics.StatusWarn
		creds.Detail = "no credentials file, using application default credentials"
	} else if f, err := os.Open(cfg.Sheets.CredentialsFile); err != nil {
		creds.Status = diagnostics.StatusFail
		creds.Detail = err.Error()
	} else {
		_ = f.Close()
		creds.Detail = cfg.Sheets.CredentialsFile
	}
	checks = append(checks, creds)

	stateDir := filepath.Dir(cfg.State.Path)
	dir := diagnostics.Check{Name: "state dir", Status: diagnostics.StatusOK, Detail: stateDir}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		dir.Status = diagnostics.StatusFail
		dir.Detail = err.Error()
	}
	checks = append(checks, dir)

	checks = append(checks, lockCheck(cfg.State.LockPath))

	if cfg.API.Enabled {
		checks = append(checks, apiCheck(ctx, cfg.API.Listen))
	}
	return checks
}

// lockCheck reports whether a runner currently holds the runner lock.
func lockCheck(path string) diagnostics.Check {
	c := diagnostics.Check{Name: "runner", Status: diagnostics.StatusOK}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.Status = diagnostics.StatusWarn
		c.Detail = err.Error()
		return c
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	switch {
	case err != nil:
		c.Status = diagnostics.StatusWarn
		c.Detail = err.Error()
	case locked:
		_ = lock.Unlock()
		c.Detail = "not running"
	default:
		c.Detail = "running (lock held on " + path + ")"
	}
	return c
}

func apiCheck(ctx context.Context, listen string) diagnostics.Check {
	c := diagnostics.Check{Name: "api", Status: diagnostics.StatusOK}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	base := baseURL(listen)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		c.Status = diagnostics.StatusWarn
		c.Detail = err.Error()
		return c
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.Detail = "no runner listening on " + base
		return c
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.Status = diagnostics.StatusWarn
		c.Detail = fmt.Sprintf("%s answered %s", base, resp.Status)
		return c
	}
	c.Detail = "runner answering on " + base
	return c
}

func printChecks(w io.Writer, st styles, checks []diagnostics.Check) {
	for _, c := range checks {
		icon := st.ok.Render("✓")
		switch c.Status {
		case diagnostics.StatusWarn:
			icon = st.warn.Render("!")
		case diagnostics.StatusFail:
			icon = st.fail.Render("✗")
		}
		fmt.Fprintf(w, "  %s %s %s\n", icon, st.label.Render(c.Name), c.Detail)
	}
}
