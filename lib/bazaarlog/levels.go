package bazaarlog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

func SetupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); !set {
		_ = logging.SetLogLevel("*", "INFO")
		_ = logging.SetLogLevel("retry", "WARN")
		_ = logging.SetLogLevel("rpc", "ERROR")
		_ = logging.SetLogLevel("fsjournal", "WARN")
	}
}

// ApplySubsystemLevels sets per-subsystem levels from the node config.
func ApplySubsystemLevels(levels map[string]string) error {
	for sys, lvl := range levels {
		if err := logging.SetLogLevel(sys, lvl); err != nil {
			return err
		}
	}
	return nil
}
