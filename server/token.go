package server

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"
)

// A TokenValidator validates and decodes user tokens passed into the web
// API. If the given token is not valid, for whatever reason, the user "" with
// a role of RoleUnknown is returned. An error is returned only if there is
// some kind of error doing the lookup and the status of the token is
// unknown.
type TokenValidator interface {
	TokenValid(token string) (user string, role Role, err error)
}

type Role int

const (
	RoleUnknown Role = iota
	RoleRead
	RoleWrite
	RoleAdmin
)

func atoRole(s string) Role {
	switch strings.ToLower(s) {
	case "read":
		return RoleRead
	case "write":
		return RoleWrite
	case "admin":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// NobodyValidator lets every token in as the user "nobody" with the Admin
// role.
type NobodyValidator struct{}

func (NobodyValidator) TokenValid(token string) (string, Role, error) {
	return "nobody", RoleAdmin, nil
}

// NewListValidator returns a validator backed by a fixed list of users,
// which are read from r. The reader should consist of a sequence of user
// entries, separated by newlines. Each entry has the form:
//
//     <user name>  <role>  <token>
//
// The fields are separated by whitespace, so neither the user name nor the
// token may contain spaces. The role is one of "Read", "Write", "Admin"
// (case insensitive). Empty lines and lines beginning with a hash '#' are
// skipped.
func NewListValidator(r io.Reader) (TokenValidator, error) {
	users, err := parseListFile(r)
	if err != nil {
		return nil, err
	}
	sort.Sort(byToken(users))
	return listValidator{users}, nil
}

// NewListValidatorFile reads the users for a list validator from the given
// file.
func NewListValidatorFile(fname string) (TokenValidator, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListValidator(f)
}

func parseListFile(r io.Reader) ([]userEntry, error) {
	var result []userEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		pieces := strings.Fields(scanner.Text())
		// skip blank lines or lines beginning with a '#'
		if len(pieces) == 0 || pieces[0][0] == '#' {
			continue
		}
		if len(pieces) != 3 {
			// wrong number of columns
			continue
		}
		result = append(result, userEntry{
			token: pieces[2],
			user:  pieces[0],
			role:  atoRole(pieces[1]),
		})
	}
	return result, scanner.Err()
}

type listValidator struct {
	data []userEntry
}

type byToken []userEntry

func (ue byToken) Len() int           { return len(ue) }
func (ue byToken) Less(i, j int) bool { return ue[i].token < ue[j].token }
func (ue byToken) Swap(i, j int)      { ue[i], ue[j] = ue[j], ue[i] }

type userEntry struct {
	token string
	user  string
	role  Role
}

func (lv listValidator) TokenValid(token string) (string, Role, error) {
	users := lv.data
	i := sort.Search(len(users), func(i int) bool { return users[i].token >= token })
	if i < len(users) && users[i].token == token {
		return users[i].user, users[i].role, nil
	}
	return "", RoleUnknown, nil
}
