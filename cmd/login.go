package cmd

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/jetstack/securesession/pkg/config"
	"github.com/jetstack/securesession/pkg/logs"
	"github.com/jetstack/securesession/pkg/session"
)

const (
	configName            = "securesession"
	globalConfigDirectory = "/etc/securesession"
)

type loginOptions struct {
	ConfigFile      string
	URL             string
	Encryption      bool
	Verification    bool
	Username        string
	CredentialsFile string
	Code            string
	ConnectRetries  uint
}

var loginOpts loginOptions

// newConnectBackOff is replaced in tests.
var newConnectBackOff = func() backoff.BackOff {
	return backoff.NewExponentialBackOff()
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open a secure session and log in",
	Long: `Runs the handshake with the document server, logs in and, if the
session requires it, submits a verification code. The code is read from
--code or, when that is empty, from stdin.

On success the session identifier and the base64 encoded access token are
printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context(), loginOpts.ConfigFile)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("url") {
			cfg.Server.URL = loginOpts.URL
		}
		if flags.Changed("encryption") {
			encryption := loginOpts.Encryption
			cfg.Session.Encryption = &encryption
		}
		if flags.Changed("verification") {
			cfg.Session.Verification = loginOpts.Verification
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		return runLogin(cmd.Context(), cfg, loginOpts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.PersistentFlags().StringVarP(
		&loginOpts.ConfigFile,
		"config",
		"c",
		"",
		fmt.Sprintf("Config file location, default is %s.yaml in the current working directory, then %s.", configName, globalConfigDirectory),
	)
	loginCmd.PersistentFlags().StringVar(
		&loginOpts.URL,
		"url",
		"",
		"Base URL of the document server. Overrides server.url from the config file.",
	)
	loginCmd.PersistentFlags().BoolVar(
		&loginOpts.Encryption,
		"encryption",
		true,
		"Request that credentials are sent encrypted. Overrides session.encryption from the config file.",
	)
	loginCmd.PersistentFlags().BoolVar(
		&loginOpts.Verification,
		"verification",
		false,
		"Request a verification code after login. Overrides session.verification from the config file.",
	)
	loginCmd.PersistentFlags().StringVarP(
		&loginOpts.Username,
		"username",
		"u",
		"",
		"Login to use. The password is read from stdin unless --credentials-file is set.",
	)
	loginCmd.PersistentFlags().StringVarP(
		&loginOpts.CredentialsFile,
		"credentials-file",
		"k",
		"",
		`Location of a JSON file with "login" and "password". --username overrides the login.`,
	)
	loginCmd.PersistentFlags().StringVar(
		&loginOpts.Code,
		"code",
		"",
		"Verification code. Read from stdin when required and not set.",
	)
	loginCmd.PersistentFlags().UintVar(
		&loginOpts.ConnectRetries,
		"connect-retries",
		3,
		"Number of times to retry the handshake after a network error or a 5xx response.",
	)
}

// loadConfig reads the config file at path or, when path is empty, looks for
// one in the working directory and then the global config directory. The
// defaults are used when no file is found.
func loadConfig(ctx context.Context, path string) (config.Config, error) {
	logger := klog.FromContext(ctx).WithValues("source", "loadConfig")

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Only search the working directory if it can be resolved.
		if cwd, err := os.Getwd(); err == nil {
			v.AddConfigPath(cwd)
		}
		v.AddConfigPath(globalConfigDirectory)
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			logger.V(logs.Debug).Info("Not using config file")
			return config.Default(), nil
		}
		return config.Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	logger.V(logs.Debug).Info("Using config file", "path", v.ConfigFileUsed())

	data, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := config.ParseConfig(data)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to parse config file %s: %w", v.ConfigFileUsed(), err)
	}

	return cfg, nil
}

func loadCredentials(opts loginOptions, stdin *bufio.Reader, prompt io.Writer) (*config.Credentials, error) {
	if opts.CredentialsFile != "" {
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}

		credentials, err := config.ParseCredentials(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials file: %w", err)
		}

		if opts.Username != "" {
			credentials.Login = opts.Username
		}

		return credentials, nil
	}

	if opts.Username == "" {
		return nil, fmt.Errorf("either --username or --credentials-file is required")
	}

	password, err := readLine(stdin, prompt, "Password: ")
	if err != nil {
		return nil, err
	}

	return &config.Credentials{Login: opts.Username, Password: password}, nil
}

// retryable reports whether a failed handshake may succeed if repeated:
// only when no response was received or the server answered with a 5xx.
func retryable(err error) bool {
	var transportErr *session.TransportError
	if !errors.As(err, &transportErr) {
		return false
	}

	return transportErr.Status == 0 || transportErr.Status >= 500
}

func runLogin(ctx context.Context, cfg config.Config, opts loginOptions, in io.Reader, out, prompt io.Writer) error {
	logger := klog.FromContext(ctx).WithValues("source", "login")
	stdin := bufio.NewReader(in)

	dump, err := cfg.Dump()
	if err != nil {
		return err
	}
	logger.V(logs.Debug).Info("Loaded config", "config", dump)

	credentials, err := loadCredentials(opts, stdin, prompt)
	if err != nil {
		return err
	}

	client, err := cfg.NewClient()
	if err != nil {
		return err
	}
	defer client.Close()

	connect := func() (struct{}, error) {
		err := client.Connect(ctx)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, connect,
		backoff.WithBackOff(newConnectBackOff()),
		backoff.WithMaxTries(opts.ConnectRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Info("Handshake failed, retrying", "err", err.Error(), "retryIn", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Server.URL, err)
	}

	if err := client.Login(ctx, credentials.Login, credentials.Password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if client.State() == session.StateVerifying {
		code := opts.Code
		if code == "" {
			if code, err = readLine(stdin, prompt, "Verification code: "); err != nil {
				return err
			}
		}

		if err := client.Verify(ctx, code); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}

	fmt.Fprintf(out, "Session: %s\n", client.SessionID())
	fmt.Fprintf(out, "Token:   %s\n", base64.StdEncoding.EncodeToString(client.Token()))

	return nil
}
