package normalize

import (
	"fmt"
	"strings"
)

// MalformedResponseError reports a payload whose primary block could not be
// found. Keys lists the top-level keys that were present.
type MalformedResponseError struct {
	Provider string
	Block    string
	Keys     []string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: no %s found (keys: %s)", e.Provider, e.Block, strings.Join(e.Keys, ", "))
}
