package config

import (
	"fmt"
	"net"
	"net/url"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/session-keeper/internal/serviceerr"
)

// DatabaseApplicationName is reported to PostgreSQL as application_name.
const DatabaseApplicationName = "session-keeper"

// URL resolves the credential references and renders a postgres:// URL
// understood by both pgxpool and the database/sql pgx driver.
func (d Database) URL() (string, error) {
	if d.Name == "" {
		return "", fmt.Errorf("%w: database.name is empty", serviceerr.ErrInvalidConfig)
	}

	host, err := commoncfg.LoadValueFromSourceRef(d.Host)
	if err != nil {
		return "", fmt.Errorf("loading database host: %w", err)
	}

	user, err := commoncfg.LoadValueFromSourceRef(d.User)
	if err != nil {
		return "", fmt.Errorf("loading database user: %w", err)
	}

	password, err := commoncfg.LoadValueFromSourceRef(d.Password)
	if err != nil {
		return "", fmt.Errorf("loading database password: %w", err)
	}

	hostPort := string(host)
	if d.Port != "" {
		hostPort = net.JoinHostPort(hostPort, d.Port)
	}

	query := url.Values{}
	query.Set("application_name", DatabaseApplicationName)
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(string(user), string(password)),
		Host:     hostPort,
		Path:     "/" + d.Name,
		RawQuery: query.Encode(),
	}

	return u.String(), nil
}
