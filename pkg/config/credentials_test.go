package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCredentials(t *testing.T) {
	tests := map[string]struct {
		input   string
		want    *Credentials
		wantErr []string
	}{
		"valid": {
			input: `{"login": "alice", "password": "hunter2"}`,
			want:  &Credentials{Login: "alice", Password: "hunter2"},
		},
		"missing password": {
			input:   `{"login": "alice"}`,
			wantErr: []string{"password cannot be empty"},
		},
		"empty": {
			input:   `{}`,
			wantErr: []string{"2 errors occurred", "login cannot be empty", "password cannot be empty"},
		},
		"not JSON": {
			input:   `login: alice`,
			wantErr: []string{"invalid character"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseCredentials([]byte(test.input))
			if len(test.wantErr) > 0 {
				require.Error(t, err)
				for _, want := range test.wantErr {
					assert.ErrorContains(t, err, want)
				}
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestParseUsers(t *testing.T) {
	users, err := ParseUsers([]byte(`[
		{"login": "alice", "password": "hunter2"},
		{"login": "bob", "password": "secret", "secret": "Ym9iLXRva2Vu"}
	]`))
	require.NoError(t, err)

	assert.Equal(t, []User{
		{Credentials: Credentials{Login: "alice", Password: "hunter2"}},
		{Credentials: Credentials{Login: "bob", Password: "secret"}, Secret: "Ym9iLXRva2Vu"},
	}, users)
}

func TestParseUsers_Errors(t *testing.T) {
	tests := map[string]struct {
		input   string
		wantErr []string
	}{
		"empty list": {
			input:   `[]`,
			wantErr: []string{"at least one user is required"},
		},
		"invalid entries": {
			input: `[{"login": "alice"}, {"password": "x"}, {"login": "alice", "password": "y"}]`,
			wantErr: []string{
				"user 1/3: password cannot be empty",
				"user 2/3: login cannot be empty",
				`user 3/3: duplicate login "alice"`,
			},
		},
		"not a list": {
			input:   `{"login": "alice"}`,
			wantErr: []string{"cannot unmarshal object"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			users, err := ParseUsers([]byte(test.input))
			require.Error(t, err)
			for _, want := range test.wantErr {
				assert.ErrorContains(t, err, want)
			}
			assert.Nil(t, users)
		})
	}
}
