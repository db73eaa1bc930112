package devices

import (
	"fmt"
	"strconv"
)

// Fan speeds as the controller names them. SpeedAuto only appears in status.
const (
	SpeedAuto = -1
	SpeedOff  = 0
	SpeedMax  = 4
)

var speedNames = map[int]string{
	SpeedAuto: "AUTO",
	0:         "OFF",
	1:         "LOW",
	2:         "MID2",
	3:         "MID1",
	4:         "HIGH",
}

// SpeedName returns the controller's name for a speed level.
func SpeedName(speed int) (string, bool) {
	name, ok := speedNames[speed]
	return name, ok
}

// Status is the drive and fan state decoded from a unit snapshot
type Status struct {
	Drive           *string `json:"drive"`
	Speed           *string `json:"speed"`
	DriveSpeedVal   *int    `json:"drive_speed_val"`
	HasSpeedControl bool    `json:"has_speed_control"`
}

// ExtractStatus decodes Drive and FanSpeed from a snapshot.
func ExtractStatus(snapshot map[string]string) (Status, error) {
	var st Status
	drive, hasDrive := snapshot["Drive"]
	speed, hasSpeed := snapshot["FanSpeed"]
	if hasDrive {
		st.Drive = &drive
	}
	if hasSpeed {
		st.Speed = &speed
	}
	if !hasDrive || !hasSpeed {
		return st, nil
	}

	_, known := speedValue(speed)
	st.HasSpeedControl = known

	val, err := DriveSpeedValue(drive, speed)
	if err != nil {
		return st, err
	}
	st.DriveSpeedVal = &val
	return st, nil
}

// DriveSpeedValue folds drive and fan speed into one level: 0 when off,
// -1 for AUTO, otherwise the speed's level.
func DriveSpeedValue(drive, speed string) (int, error) {
	if drive == "OFF" {
		return SpeedOff, nil
	}
	if v, ok := speedValue(speed); ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown drive=%s speed=%s", drive, speed)
}

func speedValue(name string) (int, bool) {
	for v, n := range speedNames {
		if n == name {
			return v, true
		}
	}
	return 0, false
}

// InletTemperature parses the unit's InletTemp attribute.
func InletTemperature(snapshot map[string]string) (*float64, bool) {
	raw, ok := snapshot["InletTemp"]
	if !ok || raw == "" {
		return nil, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}
