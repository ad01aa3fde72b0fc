package database

import (
	"cmp"
	"net"
	"net/url"
	"strconv"

	"github.com/greenroute/fleetlink/internal/config"
)

// ApplicationName is reported to the server as application_name.
const ApplicationName = "fleetlink"

// BuildConnString builds a PostgreSQL URL from config. Credentials are
// escaped; sslmode defaults to prefer and port to 5432.
func BuildConnString(cfg config.DBConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	q := url.Values{}
	q.Set("sslmode", cmp.Or(cfg.SSLMode, "prefer"))
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
