package local

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed users.schema.json
var usersSchemaJSON []byte

const usersSchemaURL = "embed://users.schema.json"

var usersSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(usersSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("parsing embedded users schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(usersSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("adding embedded users schema: %v", err))
	}
	return c.MustCompile(usersSchemaURL)
}

// ErrInvalidStore indicates a credential store that fails validation.
var ErrInvalidStore = errors.New("invalid credential store")

// User is one principal record of the credential store.
type User struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Groups   []string `json:"groups"`
}

type usersFile struct {
	Users []User `json:"users"`
}

// Store is the immutable principal map loaded at startup.
type Store struct {
	users      map[string]User
	duplicates []string
}

// LoadStore reads and validates the credential store at path.
func LoadStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path is empty", ErrInvalidStore)
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("reading credential store: %w", err)
	}
	s, err := ParseStore(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseStore validates data against the store schema and builds the
// principal map. Later records replace earlier ones with the same name;
// the replaced names are reported by Duplicates.
func ParseStore(data []byte) (*Store, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	if err := usersSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}

	var f usersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}

	s := &Store{users: make(map[string]User, len(f.Users))}
	for _, u := range f.Users {
		if _, exists := s.users[u.Username]; exists {
			s.duplicates = append(s.duplicates, u.Username)
		}
		if u.Groups == nil {
			u.Groups = []string{}
		}
		s.users[u.Username] = u
	}
	return s, nil
}

// Lookup returns the record for username.
func (s *Store) Lookup(username string) (User, bool) {
	u, ok := s.users[username]
	return u, ok
}

// Len returns the number of distinct principals.
func (s *Store) Len() int {
	return len(s.users)
}

// Duplicates returns usernames that appeared more than once, in file order.
func (s *Store) Duplicates() []string {
	return append([]string(nil), s.duplicates...)
}
