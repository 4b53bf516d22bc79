package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Log is the package-level logger shared by every taskflow package.
var Log = logrus.New()

// SetLevel parses a level name ("debug", "info", "warn", "error") and applies it to Log.
// An empty name leaves the current level untouched.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	Log.SetLevel(lvl)
	return nil
}
