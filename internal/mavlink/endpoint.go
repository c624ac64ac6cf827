package mavlink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
)

// ParseEndpoint parses an endpoint description:
//
//	udp-server:0.0.0.0:14540
//	udp-client:127.0.0.1:14580
//	tcp-client:127.0.0.1:5760
//	tcp-server:0.0.0.0:5760
//	serial:/dev/ttyACM0:57600
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("endpoint %q: want kind:address", s)
	}

	switch kind {
	case "udp-server":
		return gomavlib.EndpointUDPServer{Address: rest}, nil
	case "udp-client":
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "tcp-client":
		return gomavlib.EndpointTCPClient{Address: rest}, nil
	case "tcp-server":
		return gomavlib.EndpointTCPServer{Address: rest}, nil
	case "serial":
		i := strings.LastIndex(rest, ":")
		if i <= 0 {
			return nil, fmt.Errorf("endpoint %q: want serial:device:baud", s)
		}
		baud, err := strconv.Atoi(rest[i+1:])
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("endpoint %q: bad baud rate", s)
		}
		return gomavlib.EndpointSerial{Device: rest[:i], Baud: baud}, nil
	default:
		return nil, fmt.Errorf("endpoint %q: unknown kind %q", s, kind)
	}
}
