package idpclient

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// User mirrors the provider's user representation.
type User struct {
	ID               string              `json:"id,omitempty"`
	Username         string              `json:"username"`
	Email            string              `json:"email,omitempty"`
	FirstName        string              `json:"firstName,omitempty"`
	LastName         string              `json:"lastName,omitempty"`
	Enabled          bool                `json:"enabled"`
	EmailVerified    bool                `json:"emailVerified"`
	Attributes       map[string][]string `json:"attributes,omitempty"`
	CreatedTimestamp int64               `json:"createdTimestamp,omitempty"`
}

// Credential is a password credential attached on create.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// NewUser describes a user to create. Password is optional.
type NewUser struct {
	Username          string
	Email             string
	FirstName         string
	LastName          string
	Enabled           bool
	Password          string
	TemporaryPassword bool
	Attributes        map[string][]string
}

type createUserBody struct {
	User
	Credentials []Credential `json:"credentials,omitempty"`
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Email         *string             `json:"email,omitempty"`
	FirstName     *string             `json:"firstName,omitempty"`
	LastName      *string             `json:"lastName,omitempty"`
	Enabled       *bool               `json:"enabled,omitempty"`
	EmailVerified *bool               `json:"emailVerified,omitempty"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

// CreateUser creates a user and returns the id the provider assigned.
func (c *Client) CreateUser(ctx context.Context, nu NewUser) (string, error) {
	const op = "create_user"

	var id string
	err := c.track(ctx, op, func() error {
		if nu.Username == "" {
			return &Error{Kind: KindClientError, Op: op, Message: "username is required"}
		}
		body := createUserBody{User: User{
			Username:   nu.Username,
			Email:      nu.Email,
			FirstName:  nu.FirstName,
			LastName:   nu.LastName,
			Enabled:    nu.Enabled,
			Attributes: nu.Attributes,
		}}
		if nu.Password != "" {
			body.Credentials = []Credential{{Type: "password", Value: nu.Password, Temporary: nu.TemporaryPassword}}
		}

		hdr, err := c.adminCall(ctx, op, http.MethodPost, c.adminURL("users"), body, http.StatusCreated, nil)
		if err != nil {
			return err
		}
		loc := hdr.Get("Location")
		if loc == "" {
			return &Error{Kind: KindDecode, Op: op, StatusCode: http.StatusCreated, Message: "missing Location header"}
		}
		u, err := url.Parse(loc)
		if err != nil {
			return &Error{Kind: KindDecode, Op: op, StatusCode: http.StatusCreated, Err: err}
		}
		id = path.Base(u.Path)
		return nil
	})
	return id, err
}

// UpdateUser applies upd to the user with the given id.
func (c *Client) UpdateUser(ctx context.Context, id string, upd UserUpdate) error {
	const op = "update_user"
	return c.track(ctx, op, func() error {
		if err := validUserID(op, id); err != nil {
			return err
		}
		_, err := c.adminCall(ctx, op, http.MethodPut, c.adminURL("users", id), upd, http.StatusNoContent, nil)
		return err
	})
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	const op = "delete_user"
	return c.track(ctx, op, func() error {
		if err := validUserID(op, id); err != nil {
			return err
		}
		_, err := c.adminCall(ctx, op, http.MethodDelete, c.adminURL("users", id), nil, http.StatusNoContent, nil)
		return err
	})
}

// LookupUserByUsername returns the user with exactly this username, or an
// error matching ErrNotFound. Usernames compare without case since Keycloak
// stores them lower-cased.
func (c *Client) LookupUserByUsername(ctx context.Context, username string) (*User, error) {
	const op = "lookup_user"

	var found *User
	err := c.track(ctx, op, func() error {
		if username == "" {
			return &Error{Kind: KindClientError, Op: op, Message: "username is required"}
		}
		q := url.Values{"username": {username}, "exact": {"true"}}
		var users []User
		if _, err := c.adminCall(ctx, op, http.MethodGet, c.adminURL("users")+"?"+q.Encode(), nil, http.StatusOK, &users); err != nil {
			return err
		}
		for i := range users {
			if strings.EqualFold(users[i].Username, username) {
				found = &users[i]
				return nil
			}
		}
		return &Error{Kind: KindNotFound, Op: op, Message: "no user named " + username}
	})
	return found, err
}

// validUserID rejects ids that cannot be provider user ids before they are
// spliced into a URL path.
func validUserID(op, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &Error{Kind: KindClientError, Op: op, Message: "invalid user id", Err: err}
	}
	return nil
}
