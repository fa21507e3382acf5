package mdns

import (
	"fmt"
	"os/exec"
	"strconv"
)

// commandAnnouncer keeps avahi-publish-service running for the lifetime of
// the registration.
type commandAnnouncer struct {
	cmd *exec.Cmd
}

func publishArgs(service *Service) []string {
	args := []string{service.Name, service.Type, strconv.Itoa(service.Port)}
	if service.Domain != "" {
		args = append([]string{"--domain=" + service.Domain}, args...)
	}
	if service.Host != "" {
		args = append([]string{"--host=" + service.Host}, args...)
	}
	return append(args, service.TXT...)
}

func announceCommand(service *Service) (*commandAnnouncer, error) {
	binary, err := exec.LookPath("avahi-publish-service")
	if err != nil {
		return nil, fmt.Errorf("avahi-publish-service not found: %w (install avahi-utils)", err)
	}

	cmd := exec.Command(binary, publishArgs(service)...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start avahi-publish-service: %w", err)
	}
	return &commandAnnouncer{cmd: cmd}, nil
}

func (a *commandAnnouncer) Stop() error {
	if a.cmd == nil || a.cmd.Process == nil {
		return nil
	}
	if err := a.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop avahi-publish-service: %w", err)
	}
	_ = a.cmd.Wait()
	return nil
}
