package activity

import (
	"strings"

	"github.com/mssola/user_agent"
)

// ClientLabel turns a User-Agent header into something like
// "Chrome 120 on Windows 10". Empty input gives an empty label.
func ClientLabel(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}
	ua := user_agent.New(userAgent)
	name, version := ua.Browser()
	if ua.Bot() {
		if name == "" {
			return "bot"
		}
		return "bot: " + name
	}
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}

	label := strings.TrimSpace(name + " " + version)
	if label == "" {
		label = "unknown client"
	}
	if platform := ua.OS(); platform != "" {
		label += " on " + platform
	}
	if ua.Mobile() {
		label += " (mobile)"
	}
	return label
}
