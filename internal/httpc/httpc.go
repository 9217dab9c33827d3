package httpc

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/apigw/internal/common"
)

// Httpc builds the resty clients used for every outbound backend call.
type Httpc struct {
	TlsConfig *tls.Config
	// Timeout bounds a whole exchange when the caller sets no context deadline.
	Timeout   time.Duration
	UserAgent string
}

// New returns a resty.Client configured according to the receiver's settings.
// Defaults: MinVersion TLS1.2 when MinVersion is zero. Resty's own retry loop
// is disabled; retries belong to the retry package.
func (h *Httpc) New() *resty.Client {
	c := resty.New().
		SetRetryCount(0).
		SetLogger(restyLogger{common.GetLogger().WithComponent("httpc")})
	if h.Timeout > 0 {
		c.SetTimeout(h.Timeout)
	}
	if ua := strings.TrimSpace(h.UserAgent); ua != "" {
		c.SetHeader("User-Agent", ua)
	}
	cfg := h.TlsConfig
	if cfg == nil {
		return c
	}
	cfg = cfg.Clone()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	c.SetTLSClientConfig(cfg)
	return c
}

// ParseTLSVersion maps "1.0".."1.3" (optionally prefixed with "tls") to the
// crypto/tls constant. Empty input yields 0.
func ParseTLSVersion(s string) uint16 {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls")
	v = strings.TrimPrefix(v, "v")
	switch v {
	case "1.0", "10":
		return tls.VersionTLS10
	case "1.1", "11":
		return tls.VersionTLS11
	case "1.2", "12":
		return tls.VersionTLS12
	case "1.3", "13":
		return tls.VersionTLS13
	default:
		return 0
	}
}

// restyLogger routes resty's internal diagnostics into slog.
type restyLogger struct {
	l *common.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error(sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn(sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug(sprintf(format, v...)) }

func sprintf(format string, v ...interface{}) string {
	return common.MaskSensitiveData(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
