package auth

import (
	"encoding/json"
	"fmt"
)

// Permission grants a user an operation on a resource pattern
type Permission struct {
	Username  string `json:"username"`
	Operation string `json:"operation"`
	Resource  string `json:"resource"`
}

// File is the registry auth file. User entries are kept verbatim as
// printed by karapace_mkpasswd.
type File struct {
	Users       []json.RawMessage `json:"users"`
	Permissions []Permission      `json:"permissions"`
}

// Render encodes the file
func (f File) Render() (string, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render auth file: %w", err)
	}
	return string(data), nil
}
