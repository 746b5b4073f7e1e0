package portal

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// User is one portal login bound to one session.
type User struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"`
	Session      string `toml:"session"`
}

type usersFile struct {
	Users []User `toml:"user"`
}

// Users is an immutable username index.
type Users struct {
	byName map[string]User
}

// LoadUsers reads a TOML file of [[user]] tables.
func LoadUsers(path string) (*Users, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("portal: read users file: %w", err)
	}
	return ParseUsers(string(raw))
}

// ParseUsers parses the users file format. Usernames are case-insensitive
// and must be unique; every user needs a hash and a session.
func ParseUsers(data string) (*Users, error) {
	var f usersFile
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("portal: parse users file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrConfig, undecoded[0])
	}

	u := &Users{byName: make(map[string]User, len(f.Users))}
	for i, usr := range f.Users {
		usr.Username = normalizeUsername(usr.Username)
		usr.Session = strings.TrimSpace(usr.Session)
		switch {
		case usr.Username == "":
			return nil, fmt.Errorf("%w: user #%d has no username", ErrConfig, i+1)
		case usr.PasswordHash == "":
			return nil, fmt.Errorf("%w: user %q has no password_hash", ErrConfig, usr.Username)
		case usr.Session == "":
			return nil, fmt.Errorf("%w: user %q has no session", ErrConfig, usr.Username)
		}
		if _, _, _, err := decodeHash(usr.PasswordHash); err != nil {
			return nil, fmt.Errorf("%w: user %q: %v", ErrConfig, usr.Username, err)
		}
		if _, dup := u.byName[usr.Username]; dup {
			return nil, fmt.Errorf("%w: duplicate user %q", ErrConfig, usr.Username)
		}
		u.byName[usr.Username] = usr
	}
	return u, nil
}

// Lookup returns the user with the given name.
func (u *Users) Lookup(username string) (User, bool) {
	if u == nil {
		return User{}, false
	}
	usr, ok := u.byName[normalizeUsername(username)]
	return usr, ok
}

// Len returns the number of users.
func (u *Users) Len() int {
	if u == nil {
		return 0
	}
	return len(u.byName)
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
