package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"

	"uploadai/internal/logging"
)

// ServiceType is the mDNS service advertised for the control server.
const ServiceType = "_uploadai._tcp"

// Advertise registers the control server on the local network. The returned
// function withdraws the registration.
func Advertise(port int, version string, logger *slog.Logger) (func(), error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "uploadai"
	}
	instance := fmt.Sprintf("uploadai on %s", host)
	txt := []string{"path=/session"}
	if version != "" {
		txt = append(txt, "version="+version)
	}
	server, err := zeroconf.Register(instance, ServiceType, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	logging.NewComponentLogger(logger, "server").Info("control server advertised",
		logging.String(logging.FieldEventType, "mdns_advertised"),
		logging.String("instance", instance),
		logging.String("service", ServiceType),
		logging.Int("port", port),
	)
	return server.Shutdown, nil
}
