package logconfig

import (
	"strings"

	myLogger "github.com/sirupsen/logrus"
)

// This output format is used in tests (has terminal).
func ConfigDebugLogger() {
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

func ConfigInfoLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// This output format is used in production.
// One JSON object per line so the policy server logs can be shipped as is.
func ConfigProductionLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{})
}

// ConfigLogger picks a setup from the LOG_LEVEL config value.
// "debug" and "info" use the terminal formats above, "production" the JSON one,
// anything else is handed to logrus as a plain level name.
func ConfigLogger(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		ConfigInfoLogger()
		return nil
	case "debug":
		ConfigDebugLogger()
		return nil
	case "production", "prod":
		ConfigProductionLogger()
		return nil
	}

	lvl, err := myLogger.ParseLevel(level)
	if err != nil {
		return err
	}
	ConfigInfoLogger()
	myLogger.SetLevel(lvl)
	return nil
}
