package controller

import (
	"os"
	"path/filepath"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

var exitFn = os.Exit

// checkConfigChanges reloads the config each time the file is written. If the
// walking pad settings changed the process exits and systemd restarts it with
// the new config.
func checkConfigChanges(conf *PadConfig, configDir string) error {
	configFilePath := filepath.Join(configDir, goconfig.ConfigFileName)
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configFilePath, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		return err
	}
	defer notify.Stop(fsEvents)

	for range fsEvents {
		if configChanged(conf, configDir) {
			log.Info("Config changed. Exiting to allow systemctl to restart service.")
			exitFn(0)
			return nil
		}
		log.Info("No relevant changes detected in config file.")
	}
	return nil
}

func configChanged(conf *PadConfig, configDir string) bool {
	newConfig, err := ParsePadConfig(configDir)
	if err != nil {
		log.Error("error reloading config:", err)
		return false
	}
	diff := cmp.Diff(conf, newConfig)
	log.Debug("Config diff:", diff)
	return diff != ""
}
