package docker

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	localHost     = "local"
	defaultSocket = "/var/run/docker.sock"
	defaultPort   = "2375"
)

// endpoint is where a Docker Engine API listens.
type endpoint struct {
	// baseURL is the HTTP base. For unix sockets it is a placeholder host.
	baseURL string
	// socket is the unix socket path, empty for TCP.
	socket string
}

// resolveHost maps a user-supplied host to an Engine API endpoint:
//
//	local, localhost        -> unix:///var/run/docker.sock
//	unix:///path            -> that socket
//	tcp://h:p               -> http://h:p
//	http://..., https://... -> as given
//	h:p                     -> http://h:p
//	h                       -> http://h:2375
func resolveHost(host string) (endpoint, error) {
	host = strings.TrimSpace(host)
	switch {
	case host == "" || host == localHost || host == "localhost":
		return endpoint{baseURL: "http://docker", socket: defaultSocket}, nil
	case strings.HasPrefix(host, "unix://"):
		path := strings.TrimPrefix(host, "unix://")
		if path == "" {
			return endpoint{}, fmt.Errorf("invalid docker host %q: empty socket path", host)
		}
		return endpoint{baseURL: "http://docker", socket: path}, nil
	case strings.HasPrefix(host, "tcp://"):
		return parseHTTP("http://" + strings.TrimPrefix(host, "tcp://"))
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
		return parseHTTP(host)
	case strings.Contains(host, ":"):
		return parseHTTP("http://" + host)
	default:
		return parseHTTP("http://" + host + ":" + defaultPort)
	}
}

func parseHTTP(raw string) (endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return endpoint{}, fmt.Errorf("invalid docker host %q", raw)
	}
	return endpoint{baseURL: strings.TrimRight(u.String(), "/")}, nil
}
