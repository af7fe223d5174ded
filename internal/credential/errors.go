package credential

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// MissingCredentialError reports a required field that resolved to blank.
type MissingCredentialError struct {
	Provider string
	Field    string
	Branch   string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing %s credential %q for branch %s", e.Provider, e.Field, e.Branch)
}

var (
	// ErrBranchRequired is returned for a blank branch code.
	ErrBranchRequired = eris.New("credential: branch code is required")
	// ErrBranchNotFound is returned when no credentials row exists for a branch.
	ErrBranchNotFound = eris.New("credential: branch not found")
	// ErrUnknownProvider is returned for a provider without a schema.
	ErrUnknownProvider = eris.New("credential: unknown provider")
)
