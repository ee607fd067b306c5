package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The platform probes shell out to loginctl/xprintidle/xdotool and read
// live process state via gopsutil; there is no fake X11 session or process
// tree to assert against in CI, so these tests only cover the
// platform-independent contract New() promises. Behavioral coverage of
// IsLocked/IdleSeconds/ActiveWindow lives in the Monitor Loop's own fakes.
func TestNewReturnsANonNilProbe(t *testing.T) {
	p := New()
	assert.NotNil(t, p)
}

func TestErrUnsupportedIsASentinel(t *testing.T) {
	assert.EqualError(t, ErrUnsupported, "probe: unsupported platform")
}
