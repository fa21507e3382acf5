//go:build linux

package mdns

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	avahiService    = "org.freedesktop.Avahi"
	avahiServer     = avahiService + ".Server"
	avahiEntryGroup = avahiService + ".EntryGroup"
)

// dbusAnnouncer owns an Avahi entry group on the system bus.
type dbusAnnouncer struct {
	conn  *dbus.Conn
	group dbus.ObjectPath
}

func announceDBus(service *Service) (*dbusAnnouncer, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	a := &dbusAnnouncer{conn: conn}

	server := conn.Object(avahiService, "/")
	if err := server.Call(avahiServer+".EntryGroupNew", 0).Store(&a.group); err != nil {
		a.Stop()
		return nil, fmt.Errorf("failed to create entry group: %w", err)
	}

	txt := make([][]byte, len(service.TXT))
	for i, record := range service.TXT {
		txt[i] = []byte(record)
	}

	group := conn.Object(avahiService, a.group)
	err = group.Call(avahiEntryGroup+".AddService", 0,
		int32(-1), // all interfaces
		int32(-1), // IPv4 and IPv6
		uint32(0),
		service.Name,
		service.Type,
		service.Domain,
		service.Host,
		uint16(service.Port),
		txt,
	).Store()
	if err != nil {
		a.Stop()
		return nil, fmt.Errorf("failed to add service: %w", err)
	}

	if err := group.Call(avahiEntryGroup+".Commit", 0).Store(); err != nil {
		a.Stop()
		return nil, fmt.Errorf("failed to commit entry group: %w", err)
	}
	return a, nil
}

func (a *dbusAnnouncer) Stop() error {
	defer a.conn.Close()
	if a.group == "" {
		return nil
	}

	group := a.conn.Object(avahiService, a.group)
	if err := group.Call(avahiEntryGroup+".Reset", 0).Store(); err != nil {
		return fmt.Errorf("failed to reset entry group: %w", err)
	}
	if err := group.Call(avahiEntryGroup+".Free", 0).Store(); err != nil {
		return fmt.Errorf("failed to free entry group: %w", err)
	}
	return nil
}
