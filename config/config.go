// Package config provides configuration for client apps based on the streamer SDK.
package config

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"github.com/tdstream/td-sdk-go/client/websocket"
)

const (
	// DefaultStreamURL is used if stream_url isn't specified.
	DefaultStreamURL = "wss://streamer-ws.tdameritrade.com/ws"

	Filepath = ".tdstream/credentials.yml"
)

// Various validation errors.
var (
	ErrNilConfig     = Error{Type: "config", Why: "config is nil", How: "create and load config first"}
	ErrEmptyUserID   = Error{Type: "config", What: "user_id", Why: "is empty", How: "specify a user_id"}
	ErrEmptyAccount  = Error{Type: "config", What: "account_id", Why: "is empty", How: "specify an account_id"}
	ErrEmptyAppID    = Error{Type: "config", What: "app_id", Why: "is empty", How: "specify an app_id"}
	ErrEmptyToken    = Error{Type: "config", What: "token", Why: "is empty", How: "specify a session token"}
	ErrZeroTimestamp = Error{Type: "config", What: "token_timestamp", Why: "is zero", How: "specify the token timestamp in epoch milliseconds"}
	ErrInvalidWSURL  = Error{Type: "config", Why: "wrong url", How: "URL must be a valid ws or wss url"}
	ErrInvalidScheme = Error{Type: "config", Why: "invalid scheme", How: "scheme must be ws(s)"}
)

// TD holds the configuration. Everything but stream_url comes from the
// brokerage's user-principals response.
type TD struct {
	mu             sync.Mutex `yaml:"-"` // protects the fields below
	StreamURL      string     `yaml:"stream_url"`
	UserID         string     `yaml:"user_id"`
	AccountID      string     `yaml:"account_id"`
	AppID          string     `yaml:"app_id"`
	Token          string     `yaml:"token"`
	TokenTimestamp int64      `yaml:"token_timestamp"`
	Company        string     `yaml:"company"`
	Segment        string     `yaml:"segment"`
	CDDomain       string     `yaml:"cd_domain"`
	UserGroup      string     `yaml:"user_group"`
	AccessLevel    string     `yaml:"access_level"`
	ACL            string     `yaml:"acl"`
}

// New creates a new TD from a file by the given name.
func New(name string) (*TD, error) {
	return NewFromFilename(name)
}

// NewFromFilename creates a new TD from a file by the given filename.
func NewFromFilename(filename string) (*TD, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return NewFromRaw(data)
}

// NewFromRaw creates a new TD by unmarshaling the given raw data.
func NewFromRaw(raw []byte) (*TD, error) {
	cfg := &TD{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Trace(err)
	}

	return cfg, nil
}

// ValidateFunc validates the config by applying each of given vfs to it.
func (c *TD) ValidateFunc(vfs ...ValidateFuncTD) error {
	if c == nil {
		return ErrNilConfig
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range vfs {
		if err := f(c); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// Validate validates the config by applying ValidatorDefault.
func (c *TD) Validate() error {
	return c.ValidateFunc(ValidateTDDefault)
}

func (c *TD) Example() *TD {
	td := &TD{}

	td.StreamURL = DefaultStreamURL
	td.UserID = "example_user"
	td.AccountID = "123456789"
	td.AppID = "example_app"
	td.Token = "example_session_token"
	td.TokenTimestamp = 1588216721929
	td.Company = "AMER"
	td.Segment = "AMER"
	td.CDDomain = "A000000012345678"
	td.UserGroup = "ACCT"
	td.AccessLevel = "ACCT"
	td.ACL = "example_acl"

	return td
}

// Credentials converts the config into the credentials the stream client
// takes.
func (c *TD) Credentials() websocket.SessionCredentials {
	c.mu.Lock()
	defer c.mu.Unlock()

	return websocket.SessionCredentials{
		UserID:         c.UserID,
		AccountID:      c.AccountID,
		AppID:          c.AppID,
		Token:          c.Token,
		TokenTimestamp: c.TokenTimestamp,
		Company:        c.Company,
		Segment:        c.Segment,
		CDDomain:       c.CDDomain,
		UserGroup:      c.UserGroup,
		AccessLevel:    c.AccessLevel,
		ACL:            c.ACL,
	}
}

// String can't be defined on a value receiver here because of the mutex.
func (c *TD) String() string {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}

	return string(raw)
}

// DefaultFilepath determines and returns default config path.
// It can return an error if detecting the user's home directory has failed.
func DefaultFilepath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Trace(err)
	}

	return filepath.Join(home, Filepath), nil
}

// Error holds details about an error occured during validation process.
type Error struct {
	Type string
	What string
	Why  string
	How  string
}

func (e Error) Error() string {
	if e.What == "" {
		return fmt.Sprintf("invalid %s: %s. Possible fix: %s", e.Type, e.Why, e.How)
	}

	return fmt.Sprintf("invalid %s: %s - %s. Possible fix: %s", e.Type, e.What, e.Why, e.How)
}

// ValidateFuncTD takes an instance of TD and returns an error if any occured during validation process.
type ValidateFuncTD func(*TD) error

// CheckURL checks that the url has the correct scheme.
func CheckURL(given string, schemes ...string) error {
	u, err := url.Parse(given)
	if err != nil {
		return errors.Trace(err)
	}

	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}

	return ErrInvalidScheme
}

// ValidateTDDefault performs validation of the given config by checking all the fields for correctness.
// It does set a default stream url if one wasn't specified.
func ValidateTDDefault(c *TD) error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}

	if c.AccountID == "" {
		return ErrEmptyAccount
	}

	if c.AppID == "" {
		return ErrEmptyAppID
	}

	if c.Token == "" {
		return ErrEmptyToken
	}

	if c.TokenTimestamp == 0 {
		return ErrZeroTimestamp
	}

	if c.StreamURL == "" {
		c.StreamURL = DefaultStreamURL
	} else {
		if err := CheckURL(c.StreamURL, "ws", "wss"); err != nil {
			return ErrInvalidWSURL
		}
	}

	return nil
}
