package mavlink

// CopterModes maps ArduCopter flight mode names to custom_mode values, the
// same mapping an autopilot reports back in heartbeat custom_mode.
var CopterModes = map[string]uint32{
	"STABILIZE":    0,
	"ACRO":         1,
	"ALT_HOLD":     2,
	"AUTO":         3,
	"GUIDED":       4,
	"LOITER":       5,
	"RTL":          6,
	"CIRCLE":       7,
	"LAND":         9,
	"DRIFT":        11,
	"SPORT":        13,
	"FLIP":         14,
	"AUTOTUNE":     15,
	"POSHOLD":      16,
	"BRAKE":        17,
	"THROW":        18,
	"AVOID_ADSB":   19,
	"GUIDED_NOGPS": 20,
	"SMART_RTL":    21,
}
