package identity

import (
	"strconv"
	"strings"
)

const (
	viewportWidthStep  = 160
	viewportHeightStep = 120
)

// userAgentClass reduces a user agent to platform and browser family.
// Versions are dropped so routine browser updates keep the same class.
func userAgentClass(ua string) string {
	ua = strings.ToLower(ua)
	if ua == "" {
		return "unknown"
	}

	platform := "other"
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		platform = "tablet"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "android") || strings.Contains(ua, "mobile"):
		platform = "mobile"
	case strings.Contains(ua, "windows"):
		platform = "windows"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		platform = "mac"
	case strings.Contains(ua, "linux") || strings.Contains(ua, "x11"):
		platform = "linux"
	}

	// Order matters: Edge and Opera also advertise Chrome, Chrome advertises Safari.
	browser := "other"
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge/"):
		browser = "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		browser = "opera"
	case strings.Contains(ua, "firefox/") || strings.Contains(ua, "fxios/"):
		browser = "firefox"
	case strings.Contains(ua, "chrome/") || strings.Contains(ua, "crios/"):
		browser = "chrome"
	case strings.Contains(ua, "safari/"):
		browser = "safari"
	case strings.Contains(ua, "curl/") || strings.Contains(ua, "python") || strings.Contains(ua, "go-http-client"):
		browser = "script"
	}

	return platform + "/" + browser
}

// viewportBucket rounds a "WIDTHxHEIGHT" viewport down to coarse steps.
func viewportBucket(viewport string) string {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(viewport)), "x")
	if !ok {
		return "unknown"
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return "unknown"
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return "unknown"
	}
	width = width / viewportWidthStep * viewportWidthStep
	height = height / viewportHeightStep * viewportHeightStep
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}
