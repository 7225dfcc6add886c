package visualization

import (
	"runtime"
	"testing"
)

func TestOpenBrowser_SupportedPlatform(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		// Supported; only compilation and platform coverage are checked.
	default:
		t.Skipf("skipping on unsupported platform: %s", runtime.GOOS)
	}
}
