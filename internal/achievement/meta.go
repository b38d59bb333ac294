// Package achievement holds the domain types shared by the metadata index,
// the gateway and the HTTP transport.
package achievement

import "strings"

// Meta describes one stored achievement artifact.
type Meta struct {
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size"`
	CreatedAt string `json:"created_at"`
}

// Key returns the (owner, name) identity of the record.
func (m Meta) Key() (ownerID, name string) {
	return m.OwnerID, m.Name
}

// Validate checks the identity fields and file size.
func (m Meta) Validate() error {
	if err := ValidateIdentity(m.OwnerID, m.Name); err != nil {
		return err
	}
	if m.FileSize < 0 {
		return &ValidationError{Field: "file_size", Reason: "must not be negative"}
	}
	return nil
}

// ValidateOwner checks an owner ID. The owner ID is used as a single object
// key segment, so it may not contain a slash.
func ValidateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return &ValidationError{Field: "owner_id", Reason: "is required"}
	}
	if strings.Contains(ownerID, "/") {
		return &ValidationError{Field: "owner_id", Reason: "must not contain '/'"}
	}
	return nil
}

// ValidateIdentity checks an (owner, artifact name) pair.
func ValidateIdentity(ownerID, name string) error {
	if err := ValidateOwner(ownerID); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	return nil
}
