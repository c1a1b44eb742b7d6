package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestGaugeFuncReadsLiveValue(t *testing.T) {
	m := New("")

	intensity := 0.05
	g := m.GaugeFunc("orb_intensity", "test", func() float64 { return intensity })

	assert.InDelta(t, 0.05, testutil.ToFloat64(g), 1e-9)

	intensity = 0.75
	assert.InDelta(t, 0.75, testutil.ToFloat64(g), 1e-9)
}

func TestBindSkipsNilSources(t *testing.T) {
	m := New("goorb")

	frames := 0.0
	m.Bind(Sources{
		Frames:         func() float64 { return frames },
		AmbientPlaying: func() float64 { return Bool(true) },
	})
	frames = 42

	text := scrape(t, m)
	assert.True(t, strings.Contains(text, "goorb_orb_frames_total 42"))
	assert.True(t, strings.Contains(text, "goorb_ambient_playing 1"))
	assert.False(t, strings.Contains(text, "goorb_session_phase"))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

func TestBindAll(t *testing.T) {
	m := New("x")
	one := func() float64 { return 1 }

	m.Bind(Sources{
		Intensity:      one,
		Mode:           one,
		Frames:         one,
		Phase:          one,
		Volume:         one,
		SessionStarts:  one,
		SessionErrors:  one,
		AmbientPlaying: one,
		AmbientStarts:  one,
	})

	text := scrape(t, m)
	for _, name := range []string{
		"x_orb_intensity", "x_orb_mode", "x_orb_frames_total",
		"x_session_phase", "x_session_volume", "x_session_starts_total",
		"x_session_errors_total", "x_ambient_playing", "x_ambient_starts_total",
	} {
		assert.Contains(t, text, name)
	}
}

func TestBool(t *testing.T) {
	assert.Equal(t, 1.0, Bool(true))
	assert.Equal(t, 0.0, Bool(false))
}
