// Package misc holds small helpers shared by the command-line entry points.
package misc

import (
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

var credentialSeparator = strings.Repeat("-", 67)

// LogSavingCredentials tells the operator where a session record was written. Only the
// location is printed, never the contents.
func LogSavingCredentials(userID, location string) {
	if location == "" {
		return
	}
	fmt.Printf("Saving session for %s to %s\n", userID, filepath.Clean(location))
}

// LogCredentialSeparator adds a visual separator to group login output.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}
