// Package connection resolves logical connection identifiers to concrete
// network and authentication parameters.
package connection

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const redacted = "****"

// Secret holds a credential. It never prints its value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Reveal returns the cleartext value. Only the driver should see it.
func (s Secret) Reveal() string {
	return string(s)
}

// Spec holds everything needed to open a session on one named database.
type Spec struct {
	Identifier string            `json:"identifier"`
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	Database   string            `json:"database"`
	Login      string            `json:"login"`
	Secret     Secret            `json:"secret,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

// DSN renders s as a lib/pq keyword/value connection string.
func (s *Spec) DSN() string {
	return s.render(s.Secret.Reveal())
}

// String renders s the same way as DSN but with the password masked.
func (s *Spec) String() string {
	pw := ""
	if s.Secret != "" {
		pw = redacted
	}
	return s.render(pw)
}

func (s *Spec) render(password string) string {
	var parts []string
	add := func(k, v string) {
		if v == "" {
			return
		}
		parts = append(parts, k+"="+quote(v))
	}

	add("host", s.Host)
	if s.Port > 0 {
		add("port", strconv.Itoa(s.Port))
	}
	add("dbname", s.Database)
	add("user", s.Login)
	add("password", password)

	keys := make([]string, 0, len(s.Options))
	for k := range s.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, s.Options[k])
	}

	return strings.Join(parts, " ")
}

func (s *Spec) clone() *Spec {
	c := *s
	if s.Options != nil {
		c.Options = make(map[string]string, len(s.Options))
		for k, v := range s.Options {
			c.Options[k] = v
		}
	}
	return &c
}

func (s *Spec) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// quote escapes a value for the keyword/value format understood by lib/pq.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
