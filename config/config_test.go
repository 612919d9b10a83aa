package config

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
stream_url: wss://streamer-ws.example.com/ws
user_id: testuser
account_id: "123456789"
app_id: TESTAPP
token: test-session-token
token_timestamp: 1588216721929
company: AMER
segment: AMER
cd_domain: A000000012345678
user_group: ACCT
access_level: ACCT
acl: test-acl
`

func TestNewFromRaw(t *testing.T) {
	cfg, err := NewFromRaw([]byte(testConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "wss://streamer-ws.example.com/ws", cfg.StreamURL)
	assert.Equal(t, "testuser", cfg.UserID)
	assert.Equal(t, int64(1588216721929), cfg.TokenTimestamp)

	creds := cfg.Credentials()
	assert.Equal(t, "123456789", creds.AccountID)
	assert.Equal(t, "test-session-token", creds.Token)
	assert.Equal(t, "A000000012345678", creds.CDDomain)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		descr   string
		mutate  func(c *TD)
		wantErr error
	}{
		{descr: "valid", mutate: func(c *TD) {}},
		{descr: "missing user", mutate: func(c *TD) { c.UserID = "" }, wantErr: ErrEmptyUserID},
		{descr: "missing account", mutate: func(c *TD) { c.AccountID = "" }, wantErr: ErrEmptyAccount},
		{descr: "missing app id", mutate: func(c *TD) { c.AppID = "" }, wantErr: ErrEmptyAppID},
		{descr: "missing token", mutate: func(c *TD) { c.Token = "" }, wantErr: ErrEmptyToken},
		{descr: "zero timestamp", mutate: func(c *TD) { c.TokenTimestamp = 0 }, wantErr: ErrZeroTimestamp},
		{descr: "http url", mutate: func(c *TD) { c.StreamURL = "https://example.com" }, wantErr: ErrInvalidWSURL},
	}

	for i, tc := range testCases {
		cfg, err := NewFromRaw([]byte(testConfig))
		require.NoError(t, err)

		tc.mutate(cfg)

		err = cfg.Validate()
		if tc.wantErr == nil {
			assert.NoError(t, err, "test case #%d (%s)", i, tc.descr)
		} else {
			assert.Equal(t, tc.wantErr, errors.Cause(err), "test case #%d (%s)", i, tc.descr)
		}
	}
}

func TestValidateDefaultURL(t *testing.T) {
	cfg, err := NewFromRaw([]byte(testConfig))
	require.NoError(t, err)

	cfg.StreamURL = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultStreamURL, cfg.StreamURL)
}

func TestValidateNil(t *testing.T) {
	var cfg *TD
	assert.Equal(t, ErrNilConfig, cfg.Validate())
}
