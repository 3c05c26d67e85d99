package ipc

// Message codes pushed by the Outbound API.
const (
	CodePositionReport = 0
	CodeStartTrack     = 10
	CodeStopTrack      = 12
)

const defaultLabel = "Location Update"

var trackingCodes = map[int]struct{}{
	CodePositionReport: {},
	CodeStartTrack:     {},
	CodeStopTrack:      {},
}

var labels = map[int]string{
	CodePositionReport: "Location Update",
	CodeStartTrack:     "Tracking Started",
	CodeStopTrack:      "Tracking Stopped",
}

// IsTracking reports whether code is one of the location tracking codes.
func IsTracking(code int) bool {
	_, ok := trackingCodes[code]
	return ok
}

// Label returns the human label for code, falling back to "Location Update".
func Label(code int) string {
	if l, ok := labels[code]; ok {
		return l
	}
	return defaultLabel
}

type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	GPSFix    int     `json:"gpsFix"`
	Course    float64 `json:"course"`
	Speed     float64 `json:"speed"`
}

// IsZero reports the (0,0) "no location" sentinel.
func (p Point) IsZero() bool {
	return p.Latitude == 0 && p.Longitude == 0
}

type Status struct {
	Autonomous     int `json:"autonomous"`
	LowBattery     int `json:"lowBattery"`
	IntervalChange int `json:"intervalChange"`
	ResetDetected  int `json:"resetDetected"`
}

type Address struct {
	Address string `json:"address"`
}

type Event struct {
	IMEI        string    `json:"imei"`
	MessageCode int       `json:"messageCode"`
	FreeText    string    `json:"freeText"`
	Timestamp   int64     `json:"timeStamp"`
	Addresses   []Address `json:"addresses"`
	Point       Point     `json:"point"`
	Status      Status    `json:"status"`
}

type Notification struct {
	Version string  `json:"Version"`
	Events  []Event `json:"Events"`
}
