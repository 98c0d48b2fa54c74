// Package browser opens the user's default browser on an OAuth authorize
// URL during the login CLI flow, falling back to a platform-specific command
// if the cross-platform opener library can't find one.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// OpenURL opens url in the default browser.
func OpenURL(url string) error {
	log.Debugf("browser: opening %s", url)

	if err := open.Run(url); err == nil {
		return nil
	} else {
		log.Debugf("browser: open-golang failed (%v), trying platform command", err)
	}

	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, b := range []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"} {
			if _, err := exec.LookPath(b); err == nil {
				cmd = exec.Command(b, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("browser: no suitable browser found on this system")
		}
	default:
		return fmt.Errorf("browser: unsupported operating system %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: failed to start browser command: %w", err)
	}
	return nil
}
