//go:build !linux

package mdns

import "errors"

type dbusAnnouncer struct{}

func announceDBus(*Service) (*dbusAnnouncer, error) {
	return nil, errors.New("Avahi D-Bus publishing is only available on Linux")
}

func (*dbusAnnouncer) Stop() error { return nil }
