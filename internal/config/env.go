package config

import (
	"os"
	"strconv"
)

// EnvOverrides holds the subset of configuration that may be supplied via
// environment variables (spec.md §6). Empty/zero fields were not set.
// Grounded on the teacher's ReadEnvOverrides (internal/config/env.go).
type EnvOverrides struct {
	Username             string
	Password             string
	TrustToken           string
	DataDir              string
	MFAPort              int
	Force                bool
	Schedule             string
	LogLevel             string
	EnableCrashReporting bool
	DownloadThreads      int
	FailOnMFA            bool

	mfaPortSet         bool
	forceSet           bool
	crashReportingSet  bool
	downloadThreadsSet bool
	failOnMFASet       bool
}

// ReadEnvOverrides reads the environment variables named in spec.md §6.
// Malformed numeric/bool values are silently ignored (left unset) — they
// are not fatal since CLI flags and defaults can still supply the value.
func ReadEnvOverrides() EnvOverrides {
	var e EnvOverrides

	e.Username = os.Getenv("APPLE_ID_USER")
	e.Password = os.Getenv("APPLE_ID_PWD")
	e.TrustToken = os.Getenv("TRUST_TOKEN")
	e.DataDir = os.Getenv("DATA_DIR")
	e.Schedule = os.Getenv("SCHEDULE")
	e.LogLevel = os.Getenv("LOG_LEVEL")

	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			e.MFAPort = n
			e.mfaPortSet = true
		}
	}

	if v, ok := os.LookupEnv("FORCE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			e.Force = b
			e.forceSet = true
		}
	}

	if v, ok := os.LookupEnv("ENABLE_CRASH_REPORTING"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			e.EnableCrashReporting = b
			e.crashReportingSet = true
		}
	}

	if v, ok := os.LookupEnv("DOWNLOAD_THREADS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			e.DownloadThreads = n
			e.downloadThreadsSet = true
		}
	}

	if v, ok := os.LookupEnv("FAIL_ON_MFA"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			e.FailOnMFA = b
			e.failOnMFASet = true
		}
	}

	return e
}

// Apply merges env overrides onto cfg. Only fields explicitly present in the
// environment take effect.
func (e EnvOverrides) Apply(cfg *Config) {
	if e.Username != "" {
		cfg.Username = e.Username
	}

	if e.Password != "" {
		cfg.Password = e.Password
	}

	if e.TrustToken != "" {
		cfg.TrustToken = e.TrustToken
	}

	if e.DataDir != "" {
		cfg.DataDir = e.DataDir
	}

	if e.Schedule != "" {
		cfg.Schedule = e.Schedule
	}

	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}

	if e.mfaPortSet {
		cfg.MFAPort = e.MFAPort
	}

	if e.forceSet {
		cfg.Force = e.Force
	}

	if e.crashReportingSet {
		cfg.EnableCrashReporting = e.EnableCrashReporting
	}

	if e.downloadThreadsSet {
		cfg.DownloadThreads = e.DownloadThreads
	}

	if e.failOnMFASet {
		cfg.FailOnMFA = e.FailOnMFA
	}
}
