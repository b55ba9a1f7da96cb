package audit

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/pavelanni/examportal/internal/model"
)

// DeviceFromRequest builds the client snapshot for r. Fields the client
// did not report are set to "unknown".
func DeviceFromRequest(r *http.Request) model.DeviceInfo {
	platform := strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `" `)
	if platform == "" {
		platform = r.Header.Get("X-Client-Platform")
	}
	return model.DeviceInfo{
		UserAgent:        orUnknown(r.UserAgent()),
		Platform:         orUnknown(platform),
		Language:         orUnknown(firstLanguage(r.Header.Get("Accept-Language"))),
		ScreenResolution: orUnknown(r.Header.Get("X-Screen-Resolution")),
		ConnectionType:   orUnknown(r.Header.Get("X-Connection-Type")),
		IPAddress:        orUnknown(clientIP(r.RemoteAddr)),
	}
}

func firstLanguage(header string) string {
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

func clientIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Unknown
	}
	return s
}
