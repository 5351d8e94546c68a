package cooldown

import (
	"fmt"
	"strings"
	"time"
)

// FormatRemaining renders d as "mm:ss" or as whole seconds ("ss"). Partial
// seconds round up so a running countdown never shows zero early.
func FormatRemaining(d time.Duration, format string) string {
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	if format == "ss" {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// RenderTemplate substitutes {remaining} in tpl with the formatted duration.
func RenderTemplate(tpl string, remaining time.Duration, format string) string {
	return strings.ReplaceAll(tpl, "{remaining}", FormatRemaining(remaining, format))
}
