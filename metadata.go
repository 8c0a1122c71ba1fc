package shardtrace

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var defaultPorts = map[string]int{
	"mysql":      3306,
	"mariadb":    3306,
	"postgres":   5432,
	"postgresql": 5432,
	"sqlserver":  1433,
	"oracle":     1521,
}

// ParseDataSourceURL extracts the host and port from a data source URL
// such as "jdbc:mysql://db1:3306/orders" or "postgres://user@db2/orders".
// The "jdbc:" prefix is optional. When the URL has no port, the default
// port of its scheme is used, or -1 if the scheme is unknown.
//
// Oracle thin URLs ("jdbc:oracle:thin:@host:1521:sid") are also accepted.
// URLs naming several hosts are rejected.
func ParseDataSourceURL(rawURL string) (DataSourceMetadata, error) {
	s := strings.TrimPrefix(rawURL, "jdbc:")

	if strings.HasPrefix(s, "oracle:") {
		return parseOracleURL(rawURL, s)
	}

	// sqlserver style properties follow the authority after a ';'
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}

	u, err := url.Parse(s)
	if err != nil {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: %v", ErrInvalidDataSourceURL, rawURL, err)
	}
	if u.Hostname() == "" {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: missing host", ErrInvalidDataSourceURL, rawURL)
	}
	if strings.Contains(u.Host, ",") {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: multiple hosts", ErrInvalidDataSourceURL, rawURL)
	}

	port, err := resolvePort(u.Scheme, u.Port())
	if err != nil {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: %v", ErrInvalidDataSourceURL, rawURL, err)
	}

	return DataSourceMetadata{HostName: u.Hostname(), Port: port}, nil
}

func parseOracleURL(rawURL, s string) (DataSourceMetadata, error) {
	i := strings.IndexByte(s, '@')
	if i < 0 {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: missing host", ErrInvalidDataSourceURL, rawURL)
	}
	addr := strings.TrimPrefix(s[i+1:], "//")

	// host[:port][:sid] or host[:port]/service
	if j := strings.IndexByte(addr, '/'); j >= 0 {
		addr = addr[:j]
	}
	var host, rest string
	if strings.HasPrefix(addr, "[") {
		end := strings.IndexByte(addr, ']')
		if end < 0 {
			return DataSourceMetadata{}, fmt.Errorf("%w %q: unterminated IPv6 address", ErrInvalidDataSourceURL, rawURL)
		}
		host, rest = addr[1:end], addr[end+1:]
		if rest != "" && rest[0] != ':' {
			return DataSourceMetadata{}, fmt.Errorf("%w %q: unexpected %q after host", ErrInvalidDataSourceURL, rawURL, rest)
		}
		rest = strings.TrimPrefix(rest, ":")
	} else {
		host, rest, _ = strings.Cut(addr, ":")
	}
	if host == "" {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: missing host", ErrInvalidDataSourceURL, rawURL)
	}
	if strings.Contains(host, ",") {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: multiple hosts", ErrInvalidDataSourceURL, rawURL)
	}

	p, _, _ := strings.Cut(rest, ":")
	port, err := resolvePort("oracle", p)
	if err != nil {
		return DataSourceMetadata{}, fmt.Errorf("%w %q: %v", ErrInvalidDataSourceURL, rawURL, err)
	}
	return DataSourceMetadata{HostName: host, Port: port}, nil
}

func resolvePort(scheme, p string) (int, error) {
	if p == "" {
		if port, ok := defaultPorts[strings.ToLower(scheme)]; ok {
			return port, nil
		}
		return -1, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", p)
	}
	return port, nil
}

// Address returns "host:port", or just the host when the port is unknown.
func (m DataSourceMetadata) Address() string {
	if m.Port < 0 {
		return m.HostName
	}
	return net.JoinHostPort(m.HostName, strconv.Itoa(m.Port))
}
