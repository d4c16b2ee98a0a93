package config

// CLIOverrides holds flag values explicitly set on the command line. Only
// fields the caller sets to a non-nil pointer override lower layers — this mirrors the teacher's cmd.Flags().Changed("drive")
// guard in root.go's loadConfig, generalized to every overridable flag.
type CLIOverrides struct {
	ConfigPath string

	Username        *string
	Password        *string
	TrustToken      *string
	DataDir         *string
	MFAPort         *int
	Force           *bool
	RefreshToken    *bool
	FailOnMFA       *bool
	DownloadThreads *int
	Schedule        *string
	CrashReporting  *bool
	LogLevel        *string
}

// Apply merges CLI-layer values onto cfg. This is the last, highest-priority
// layer.
func (c CLIOverrides) Apply(cfg *Config) {
	if c.Username != nil {
		cfg.Username = *c.Username
	}

	if c.Password != nil {
		cfg.Password = *c.Password
	}

	if c.TrustToken != nil {
		cfg.TrustToken = *c.TrustToken
	}

	if c.DataDir != nil {
		cfg.DataDir = *c.DataDir
	}

	if c.MFAPort != nil {
		cfg.MFAPort = *c.MFAPort
	}

	if c.Force != nil {
		cfg.Force = *c.Force
	}

	if c.RefreshToken != nil {
		cfg.RefreshToken = *c.RefreshToken
	}

	if c.FailOnMFA != nil {
		cfg.FailOnMFA = *c.FailOnMFA
	}

	if c.DownloadThreads != nil {
		cfg.DownloadThreads = *c.DownloadThreads
	}

	if c.Schedule != nil {
		cfg.Schedule = *c.Schedule
	}

	if c.CrashReporting != nil {
		cfg.EnableCrashReporting = *c.CrashReporting
	}

	if c.LogLevel != nil {
		cfg.LogLevel = *c.LogLevel
	}
}

// Resolve merges the four layers in priority order (lowest to highest):
// built-in defaults, optional TOML file, environment variables, CLI flags.
// Grounded on the teacher's loadConfig (root.go) four-layer resolution.
func Resolve(cli CLIOverrides) (*Config, error) {
	cfg := DefaultConfig()

	fc, err := LoadFile(cli.ConfigPath)
	if err != nil {
		return nil, err
	}

	fc.Apply(cfg)

	ReadEnvOverrides().Apply(cfg)

	cli.Apply(cfg)

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	return cfg, nil
}

// ptr helpers let cobra flag-changed checks build CLIOverrides tersely in
// the command layer.
func StrPtr(s string) *string { return &s }
func IntPtr(i int) *int       { return &i }
func BoolPtr(b bool) *bool    { return &b }
