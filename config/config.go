package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yyyyyyyan/onesecmail/validator"
)

// Config captures all command-line options required to run the watcher.
type Config struct {
	Address         string
	Random          bool
	DateOffset      string
	FromPatterns    []string
	SubjectPatterns []string
	Since           time.Time
	Until           time.Time
	Watch           bool
	PollInterval    time.Duration

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string

	StateDir string
	DryRun   bool
	LogLevel string
	LogDir   string
}

// dateLayouts are accepted by --since and --until. Zone-less values are
// interpreted in the local system zone.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("address", "", "Mailbox address (user@domain) to watch")
	flags.Bool("random", false, "Generate a random mailbox instead of using --address")
	flags.String("date-offset", "+0200", "UTC offset applied when parsing message dates")
	flags.StringArray("from-pattern", nil, "Regex matched against the start of the sender address")
	flags.StringArray("subject-pattern", nil, "Regex matched against the start of the subject")
	flags.String("since", "", "Only archive messages dated strictly after this instant")
	flags.String("until", "", "Only archive messages dated strictly before this instant")
	flags.Bool("watch", false, "Keep polling the mailbox instead of a single pass")
	flags.Duration("poll-interval", 30*time.Second, "Delay between polls in watch mode")
	flags.String("imap-host", "", "IMAP server hostname to archive into")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", "INBOX", "Target IMAP folder for archived mail")
	flags.String("state-dir", "", "Directory for the archived-message state file")
	flags.Bool("dry-run", false, "Simulate archiving and emit stats without uploading")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stdout only when empty)")

	if err := cmd.MarkFlagRequired("imap-host"); err != nil {
		return err
	}
	if err := cmd.MarkFlagRequired("imap-user"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with
// validation. A .env file in the working directory is loaded first so flag
// fallbacks like IMAP_PASS can live there.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	flags := cmd.Flags()

	address, err := flags.GetString("address")
	if err != nil {
		return Config{}, err
	}
	random, err := flags.GetBool("random")
	if err != nil {
		return Config{}, err
	}
	dateOffset, err := flags.GetString("date-offset")
	if err != nil {
		return Config{}, err
	}
	fromPatterns, err := flags.GetStringArray("from-pattern")
	if err != nil {
		return Config{}, err
	}
	subjectPatterns, err := flags.GetStringArray("subject-pattern")
	if err != nil {
		return Config{}, err
	}
	sinceRaw, err := flags.GetString("since")
	if err != nil {
		return Config{}, err
	}
	untilRaw, err := flags.GetString("until")
	if err != nil {
		return Config{}, err
	}
	watch, err := flags.GetBool("watch")
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := flags.GetDuration("poll-interval")
	if err != nil {
		return Config{}, err
	}
	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Config{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	targetFolder, err := flags.GetString("target-folder")
	if err != nil {
		return Config{}, err
	}
	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	if stateDir == "" {
		stateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}

	since, err := ParseDate(sinceRaw)
	if err != nil {
		return Config{}, fmt.Errorf("--since: %w", err)
	}
	until, err := ParseDate(untilRaw)
	if err != nil {
		return Config{}, fmt.Errorf("--until: %w", err)
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		Address:            address,
		Random:             random,
		DateOffset:         dateOffset,
		FromPatterns:       fromPatterns,
		SubjectPatterns:    subjectPatterns,
		Since:              since,
		Until:              until,
		Watch:              watch,
		PollInterval:       pollInterval,
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		IMAPUser:           imapUser,
		IMAPPass:           imapPass,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		TargetFolder:       targetFolder,
		StateDir:           filepath.Clean(stateDir),
		DryRun:             dryRun,
		LogLevel:           logLevel,
		LogDir:             logDir,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validators builds the validator chain configured by the pattern and date
// flags, in the order sender, subject, date window.
func (cfg Config) Validators() ([]validator.Validator, error) {
	var validators []validator.Validator

	for _, pattern := range cfg.FromPatterns {
		v, err := validator.NewFromAddress(pattern)
		if err != nil {
			return nil, fmt.Errorf("--from-pattern: %w", err)
		}
		validators = append(validators, v)
	}
	for _, pattern := range cfg.SubjectPatterns {
		v, err := validator.NewSubject(pattern)
		if err != nil {
			return nil, fmt.Errorf("--subject-pattern: %w", err)
		}
		validators = append(validators, v)
	}
	if !cfg.Since.IsZero() || !cfg.Until.IsZero() {
		validators = append(validators, validator.NewDateRange(cfg.Since, cfg.Until))
	}

	return validators, nil
}

func validateConfig(cfg Config) error {
	if cfg.Address == "" && !cfg.Random {
		return fmt.Errorf("either --address or --random is required")
	}
	if cfg.Address != "" && cfg.Random {
		return fmt.Errorf("--address and --random are mutually exclusive")
	}
	if cfg.Address != "" && !strings.Contains(cfg.Address, "@") {
		return fmt.Errorf("--address must be of the form user@domain")
	}
	if _, err := time.Parse("-0700", cfg.DateOffset); err != nil {
		return fmt.Errorf("--date-offset must be a UTC offset like +0200: %w", err)
	}
	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if !cfg.DryRun && cfg.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.Watch && cfg.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive in watch mode")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// ParseDate parses a --since/--until style date value. Zone-less values are
// interpreted in the local system zone; empty input yields the zero time.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".onesecmail", "state"), nil
}
