package config

import "sync"

// NotificationSource re-reads notification settings from the config file on
// every call so edits take effect on the next dispatch without a restart.
type NotificationSource struct {
	path string

	mu       sync.Mutex
	lastGood NotificationConfig
}

// NewNotificationSource returns a source bound to cfg's file. When the file
// becomes unreadable the last successful read is served, starting from cfg's
// own notification block.
func NewNotificationSource(cfg Config) *NotificationSource {
	return &NotificationSource{path: cfg.path, lastGood: cfg.Notifications}
}

// Notifications loads the current notification config.
func (s *NotificationSource) Notifications() (NotificationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return s.lastGood, nil
	}

	fileCfg, err := readFile(s.path)
	if err != nil {
		return s.lastGood, err
	}

	out := mergeNotifications(defaultNotifications(), fileCfg.Notifications)
	out.applyEnvOverrides()
	s.lastGood = out
	return out, nil
}

// StaticNotifications serves a fixed config; used by tests and one-shot commands.
type StaticNotifications NotificationConfig

// Notifications returns the fixed config.
func (s StaticNotifications) Notifications() (NotificationConfig, error) {
	return NotificationConfig(s), nil
}
