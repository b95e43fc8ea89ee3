package config

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Credentials defines the format of the credentials.json file.
type Credentials struct {
	// Login is the user identifier.
	Login string `json:"login"`
	// Password is sent encrypted when the session negotiated encryption.
	Password string `json:"password"`
}

func (c *Credentials) validate() error {
	if c == nil {
		return fmt.Errorf("credentials are nil")
	}

	var result *multierror.Error
	result = multierror.Append(result, c.problems()...)

	return result.ErrorOrNil()
}

func (c *Credentials) problems() []error {
	var errs []error

	if c.Login == "" {
		errs = append(errs, fmt.Errorf("login cannot be empty"))
	}

	if c.Password == "" {
		errs = append(errs, fmt.Errorf("password cannot be empty"))
	}

	return errs
}

// ParseCredentials reads credentials into a struct used. Performs validations.
func ParseCredentials(data []byte) (*Credentials, error) {
	var credentials Credentials

	err := json.Unmarshal(data, &credentials)
	if err != nil {
		return nil, err
	}

	if err = credentials.validate(); err != nil {
		return nil, err
	}

	return &credentials, nil
}

// User is an account known to the reference server.
type User struct {
	Credentials
	// Secret is the access token issued on login, base64 encoded in
	// responses. A random token is issued when it is empty.
	Secret string `json:"secret,omitempty"`
}

// ParseUsers reads the users file of the reference server: a JSON array of
// users. Every problem is reported, with the index of the offending entry.
func ParseUsers(data []byte) ([]User, error) {
	var users []User

	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}

	var result *multierror.Error

	if len(users) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one user is required"))
	}

	seen := map[string]bool{}
	for i := range users {
		for _, err := range users[i].problems() {
			result = multierror.Append(result, fmt.Errorf("user %d/%d: %w", i+1, len(users), err))
		}

		if login := users[i].Login; login != "" {
			if seen[login] {
				result = multierror.Append(result, fmt.Errorf("user %d/%d: duplicate login %q", i+1, len(users), login))
			}
			seen[login] = true
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	return users, nil
}
