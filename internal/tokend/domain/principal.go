package domain

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

var ErrSubjectRequired = errors.New("principal subject is required")

// Principal is the identity a token is issued for. It is copied into the
// token at issuance and never re-fetched during validation.
type Principal struct {
	Subject     string            `json:"sub"`
	Username    string            `json:"username,omitempty"`
	DisplayName string            `json:"name,omitempty"`
	Email       string            `json:"email,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	Attributes  map[string]string `json:"attrs,omitempty"`
}

func (p Principal) Validate() error {
	if strings.TrimSpace(p.Subject) == "" {
		return ErrSubjectRequired
	}
	return nil
}

// Clone returns a deep copy so the caller can't mutate a stored snapshot.
func (p Principal) Clone() Principal {
	p.Roles = slices.Clone(p.Roles)
	p.Permissions = slices.Clone(p.Permissions)
	p.Attributes = maps.Clone(p.Attributes)
	return p
}
