package signals

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
tire_pressure_fl:
  name: Tire Pressure Front Left
  unit: PSI
  min: 0
  max: 50
  normal_range: [28, 36]
  ui_widget: tire
  analytics_rules:
    - condition: "value < 25"
      alert_id: tire_pressure_low
      severity: critical
      message: "low pressure: {value} PSI"
speed:
  name: Vehicle Speed
  unit: km/h
  min: 0
  max: 200
  normal_range: [0, 120]
  ui_widget: gauge
  analytics_rules:
    - condition: "value > 100 sustained 10s"
      alert_id: high_speed_stress
      severity: warning
      message: "sustained high speed"
    - condition: "rise > 40 in 5s"
      alert_id: rapid_acceleration
      severity: info
      message: "rapid acceleration"
`

func TestRegistryLoad(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]byte(validConfig)))
	require.Equal(t, 2, r.Len())

	sig, err := r.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, "speed", sig.ID)
	assert.Equal(t, "km/h", sig.Unit)
	require.Len(t, sig.Rules, 2)
	assert.Equal(t, KindSustained, sig.Rules[0].Condition.Kind)
	assert.Equal(t, KindRateOfChange, sig.Rules[1].Condition.Kind)

	// JSON payloads use the same parse path
	r2 := NewRegistry()
	payload := `{"engine_temp":{"name":"Engine Temp","unit":"C","min":-40,"max":200,"normal_range":[0,110],"ui_widget":"number","analytics_rules":[{"condition":"value > 110","alert_id":"engine_overheating","severity":"critical","message":"overheating"}]}}`
	require.NoError(t, r2.Load([]byte(payload)))
	sig, err = r2.Get("engine_temp")
	require.NoError(t, err)
	assert.Equal(t, KindThreshold, sig.Rules[0].Condition.Kind)
}

func TestRegistryLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ``},
		{"not a mapping", `[1, 2, 3]`},
		{
			"duplicate signal id",
			"speed:\n  name: A\n  unit: u\n  min: 0\n  max: 1\nspeed:\n  name: B\n  unit: u\n  min: 0\n  max: 1\n",
		},
		{
			"normal_range outside bounds",
			"s:\n  name: S\n  unit: u\n  min: 0\n  max: 50\n  normal_range: [10, 60]\n",
		},
		{
			"inverted bounds",
			"s:\n  name: S\n  unit: u\n  min: 50\n  max: 0\n  normal_range: [0, 0]\n",
		},
		{
			"unparseable condition",
			"s:\n  name: S\n  unit: u\n  min: 0\n  max: 50\n  normal_range: [0, 50]\n  analytics_rules:\n    - condition: \"value between 1 and 2\"\n      alert_id: a\n      severity: warning\n",
		},
		{
			"invalid severity",
			"s:\n  name: S\n  unit: u\n  min: 0\n  max: 50\n  normal_range: [0, 50]\n  analytics_rules:\n    - condition: \"value < 25\"\n      alert_id: a\n      severity: fatal\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Load([]byte(tt.payload))
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %T", err)
		})
	}
}

func TestRegistryRejectedReloadKeepsPrevious(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]byte(validConfig)))

	err := r.Load([]byte(`bad: {name: "", unit: u, min: 5, max: 1}`))
	require.Error(t, err)

	// Previous registry stays active
	assert.Equal(t, 2, r.Len())
	_, err = r.Get("speed")
	assert.NoError(t, err)
	_, err = r.Get("bad")
	assert.ErrorIs(t, err, ErrUnknownSignal)
}

func TestRegistryAllOrderedByID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]byte(validConfig)))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "speed", all[0].ID)
	assert.Equal(t, "tire_pressure_fl", all[1].ID)
}

func TestRegistryRetention(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]byte(validConfig)))

	assert.Equal(t, 10*time.Second, r.Retention("speed"))
	assert.Equal(t, time.Duration(0), r.Retention("tire_pressure_fl"))
	assert.Equal(t, time.Duration(0), r.Retention("nonexistent"))
}

func TestRegistryConcurrentReload(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]byte(validConfig)))

	configA := []byte(validConfig)
	configB := []byte(`
speed:
  name: Vehicle Speed
  unit: mph
  min: 0
  max: 150
  normal_range: [0, 80]
  ui_widget: gauge
  analytics_rules:
    - condition: "value > 80 sustained 5s"
      alert_id: high_speed_stress
      severity: warning
      message: "sustained high speed"
`)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				_ = r.Load(configA)
			} else {
				_ = r.Load(configB)
			}
		}
	}()

	// Readers must always observe a coherent definition: bounds and
	// rules from the same config, never a mix.
	for i := 0; i < 1000; i++ {
		sig, err := r.Get("speed")
		require.NoError(t, err)
		switch sig.Unit {
		case "km/h":
			require.Len(t, sig.Rules, 2)
			assert.Equal(t, float64(200), sig.Max)
			assert.Equal(t, float64(100), sig.Rules[0].Condition.Value)
		case "mph":
			require.Len(t, sig.Rules, 1)
			assert.Equal(t, float64(150), sig.Max)
			assert.Equal(t, float64(80), sig.Rules[0].Condition.Value)
		default:
			t.Fatalf("torn read: unit %q", sig.Unit)
		}
	}

	close(stop)
	wg.Wait()
}
