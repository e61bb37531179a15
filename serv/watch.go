package serv

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadGrace is how long requests in flight on the old service get to
// finish before its pools are closed
const reloadGrace = 30 * time.Second

// startConfigWatcher watches the config file and rebuilds the service
// when it changes. Dev mode only.
func startConfigWatcher(s1 *HttpService) error {
	s := s1.Load().(*askdbService)

	cf := s.conf.viper.ConfigFileUsed()
	if cf == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck

	// watch the directory, editors often replace the file on save
	if err := watcher.Add(filepath.Dir(cf)); err != nil {
		return err
	}

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(cf) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				reloadService(s1, cf)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnf("config watcher: %s", err)
		}
	}
}

// reloadService re-reads the config, builds a fresh service value and
// swaps it in. The old service is retired after a grace period.
func reloadService(s1 *HttpService, cf string) {
	old := s1.Load().(*askdbService)

	conf, err := ReadInConfig(cf)
	if err != nil {
		old.log.Errorf("config reload: %s", err)
		return
	}

	s, err := newAskDBService(conf, OptionSetZapLogger(old.zlog))
	if err != nil {
		old.log.Errorf("config reload: %s", err)
		return
	}
	s.srv = old.srv
	s.state = old.state

	s1.Store(s)
	s.log.Infof("config change detected, service reloaded")

	time.AfterFunc(reloadGrace, func() {
		old.adb.Close() //nolint:errcheck
		if old.cache != nil {
			old.cache.Close() //nolint:errcheck
		}
		for _, db := range old.dbs {
			if db != nil {
				db.Close() //nolint:errcheck
			}
		}
	})
}
