package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// ResidentialProxy holds the credentials of the static residential SOCKS5
// proxy that gets injected into every rewritten document.
type ResidentialProxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Environment carries the per-request inputs that do not come from the
// upstream document.
type Environment struct {
	Residential *ResidentialProxy
}

// MissingCredentialsError lists the residential proxy fields that were empty
// or invalid. It is a warning: the pipeline runs without injection.
type MissingCredentialsError struct {
	Fields []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("residential proxy credentials incomplete (%s), injection skipped", strings.Join(e.Fields, ", "))
}

// NewEnvironment builds an Environment from raw configuration values. When
// any of the four values is missing, or port is not an integer in 1..65535,
// it returns an Environment without residential credentials together with a
// *MissingCredentialsError.
func NewEnvironment(host, port, username, password string) (Environment, error) {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)

	var missing []string
	if host == "" {
		missing = append(missing, "host")
	}
	p, err := strconv.Atoi(port)
	if port == "" || err != nil || p < 1 || p > 65535 {
		missing = append(missing, "port")
	}
	if username == "" {
		missing = append(missing, "username")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return Environment{}, &MissingCredentialsError{Fields: missing}
	}

	return Environment{Residential: &ResidentialProxy{
		Host:     host,
		Port:     p,
		Username: username,
		Password: password,
	}}, nil
}
