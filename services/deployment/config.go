package deployment

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"minion-go/errcode"
)

// DefaultConfigPath is where the mission file lives on the unit.
const DefaultConfigPath = "Minion_config.ini"

// SamplePlan is one sampling phase: how long it runs and how often each
// instrument fires. Periods are in seconds; zero disables the instrument for
// the phase.
type SamplePlan struct {
	Hours          float64
	CameraPeriod   float64
	TempPresPeriod float64
	OxygenPeriod   float64
}

// Duration is the phase length.
func (p SamplePlan) Duration() time.Duration { return hours(p.Hours) }

// TimeLapsePlan is the long middle phase: short sample bursts separated by
// powered-down intervals.
type TimeLapsePlan struct {
	SamplePlan
	BurstMinutes    float64
	IntervalMinutes float64
}

func (p TimeLapsePlan) Burst() time.Duration    { return minutes(p.BurstMinutes) }
func (p TimeLapsePlan) Interval() time.Duration { return minutes(p.IntervalMinutes) }

// Samples is how many bursts the phase owes.
func (p TimeLapsePlan) Samples() int {
	if p.IntervalMinutes <= 0 {
		return 0
	}
	return int(p.Hours*60/p.IntervalMinutes + 0.5)
}

// GPSPlan paces position reports during recovery.
type GPSPlan struct {
	TransmissionWindow   float64 // hours
	TransmissionInterval float64 // minutes
}

func (p GPSPlan) Window() time.Duration   { return hours(p.TransmissionWindow) }
func (p GPSPlan) Interval() time.Duration { return minutes(p.TransmissionInterval) }

// Scripts selects which instruments this build of the unit carries.
type Scripts struct {
	Image       bool
	P30         bool // 30 bar pressure (MS5837)
	P100        bool // 100 bar pressure (Keller LD)
	Temperature bool
	Oxybase     bool
}

// MissionConfig is the parsed Minion_config.ini.
type MissionConfig struct {
	MinionID        string
	Abort           bool
	MaxDepth        float64
	IgnoreWiFiHours float64

	Initial   SamplePlan
	Final     SamplePlan
	TimeLapse TimeLapsePlan
	GPS       GPSPlan
	Scripts   Scripts
}

// LoadConfig reads and validates the mission file. Any missing or malformed
// key fails the load: a unit must not dive on a half-read mission.
func LoadConfig(path string) (MissionConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return MissionConfig{}, errors.Wrap(err, "deployment: load config")
	}

	var cfg MissionConfig
	var firstErr error
	num := func(section, key string) float64 {
		v, err := f.Section(section).Key(key).Float64()
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(errcode.InvalidConfig, "%s.%s", section, key)
		}
		return v
	}
	flag := func(section, key string) bool {
		v, err := parseAnswer(f.Section(section).Key(key).String())
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(errcode.InvalidConfig, "%s.%s", section, key)
		}
		return v
	}

	cfg.MinionID = f.Section("MINION").Key("number").String()
	cfg.Abort = flag("Mission", "abort")
	cfg.MaxDepth = num("Mission", "max_depth")
	cfg.IgnoreWiFiHours = num("Mission", "ignore_wifi-hours")

	cfg.Initial = SamplePlan{
		Hours:          num("Initial_Samples", "hours"),
		CameraPeriod:   num("Initial_Samples", "camera_sample_period"),
		TempPresPeriod: num("Initial_Samples", "temppres_sample_period"),
		OxygenPeriod:   num("Initial_Samples", "oxygen_sample_period"),
	}
	cfg.Final = SamplePlan{
		Hours:          num("Final_Samples", "hours"),
		CameraPeriod:   num("Final_Samples", "camera_sample_period"),
		TempPresPeriod: num("Final_Samples", "temppres_sample_period"),
		OxygenPeriod:   num("Final_Samples", "oxygen_sample_period"),
	}
	cfg.TimeLapse = TimeLapsePlan{
		SamplePlan: SamplePlan{
			Hours:          num("Time_Lapse_Samples", "hours"),
			CameraPeriod:   num("Time_Lapse_Samples", "camera_sample_period"),
			TempPresPeriod: num("Time_Lapse_Samples", "temppres_sample_period"),
			OxygenPeriod:   num("Time_Lapse_Samples", "oxygen_sample_period"),
		},
		BurstMinutes:    num("Time_Lapse_Samples", "sample_burst_duration"),
		IntervalMinutes: num("Time_Lapse_Samples", "sample_interval_minutes"),
	}
	cfg.GPS = GPSPlan{
		TransmissionWindow:   num("GPS", "gps_transmission_window"),
		TransmissionInterval: num("GPS", "gps_transmission_interval"),
	}
	cfg.Scripts = Scripts{
		Image:       flag("Sampling_scripts", "image"),
		P30:         flag("Sampling_scripts", "30ba-pres"),
		P100:        flag("Sampling_scripts", "100ba-pres"),
		Temperature: flag("Sampling_scripts", "temperature"),
		Oxybase:     flag("Sampling_scripts", "oxybase"),
	}

	if firstErr != nil {
		return MissionConfig{}, firstErr
	}
	if cfg.MinionID == "" {
		return MissionConfig{}, errors.Wrap(errcode.InvalidConfig, "MINION.number")
	}
	if cfg.Scripts.P30 && cfg.Scripts.P100 {
		return MissionConfig{}, errors.Wrap(errcode.InvalidConfig, "both pressure sensors enabled")
	}
	return cfg, nil
}

// parseAnswer accepts the loose yes/no spellings that appear in mission
// files written by hand.
func parseAnswer(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "t", "1", "on":
		return true, nil
	case "no", "n", "false", "f", "0", "off":
		return false, nil
	default:
		return false, errcode.InvalidConfig
	}
}

func hours(h float64) time.Duration   { return time.Duration(h * float64(time.Hour)) }
func minutes(m float64) time.Duration { return time.Duration(m * float64(time.Minute)) }
