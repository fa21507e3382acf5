// Package mdns announces the build service on the local network through
// Avahi.
package mdns

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Service is one DNS-SD registration.
type Service struct {
	Name   string // instance name, e.g. "ds2img on builder"
	Type   string // e.g. "_http._tcp"
	Port   int
	Domain string // empty means .local
	Host   string // empty means the system hostname
	TXT    []string
}

// HTTPService describes a plain HTTP service.
func HTTPService(name string, port int, txt ...string) *Service {
	return &Service{
		Name: name,
		Type: "_http._tcp",
		Port: port,
		TXT:  txt,
	}
}

func (s *Service) validate() error {
	if s.Name == "" {
		return errors.New("service name is required")
	}
	if !strings.HasPrefix(s.Type, "_") || !strings.Contains(s.Type, "._") {
		return fmt.Errorf("service type %q is not of the form _name._proto", s.Type)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	for _, txt := range s.TXT {
		if len(txt) > 255 {
			return fmt.Errorf("TXT record %.16q... longer than 255 bytes", txt)
		}
	}
	return nil
}

// Announcer keeps a service registered until Stop is called.
type Announcer interface {
	Stop() error
}

// Announce registers service with Avahi, over D-Bus when the daemon answers
// there and through avahi-publish-service otherwise.
func Announce(service *Service) (Announcer, error) {
	if err := service.validate(); err != nil {
		return nil, err
	}

	bus, err := announceDBus(service)
	if err == nil {
		logrus.WithField("service", service.Name).Info("Announced over Avahi D-Bus")
		return bus, nil
	}
	logrus.WithError(err).Debug("Avahi D-Bus unavailable, trying avahi-publish-service")

	cmd, cmdErr := announceCommand(service)
	if cmdErr != nil {
		return nil, errors.Join(err, cmdErr)
	}
	logrus.WithField("service", service.Name).Info("Announced with avahi-publish-service")
	return cmd, nil
}

// LocalURLs lists http URLs for port on every non-loopback unicast address
// of the host, sorted.
func LocalURLs(port int) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var urls []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || !ipNet.IP.IsGlobalUnicast() {
				continue
			}
			urls = append(urls, "http://"+net.JoinHostPort(ipNet.IP.String(), fmt.Sprint(port))+"/")
		}
	}
	sort.Strings(urls)
	return urls, nil
}
