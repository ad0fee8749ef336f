package models

import "time"

// UPSStatus is the canonical status derived from the raw NUT flag string.
type UPSStatus string

const (
	StatusOnline    UPSStatus = "online"
	StatusOnBattery UPSStatus = "on_battery"
	StatusOffline   UPSStatus = "ups_offline"
)

// DataSource identifies how a UPS row is populated.
type DataSource string

const (
	SourceNUT  DataSource = "nut"
	SourceSNMP DataSource = "snmp"
)

// UPS is the latest persisted snapshot for one UPS. One row per ups_id;
// ups_id is always lowercase (enforced by a DB check constraint).
// Metric fields are pointers: nil means the NUT server did not report
// the variable, or the UPS is offline.
type UPS struct {
	UPSID        string     `json:"upsId"`
	DataSource   DataSource `json:"dataSource"`
	Status       UPSStatus  `json:"status"`
	UPSStatusRaw *string    `json:"upsStatusRaw"`

	BatteryPercent        *int     `json:"batteryPercent"`
	RuntimeMinutes        *int     `json:"runtimeMinutes"`
	BatteryRuntimeSeconds *int     `json:"batteryRuntimeSeconds"`
	LoadPercent           *int     `json:"loadPercent"`
	InputVoltage          *float64 `json:"inputVoltage"`
	OutputVoltage         *float64 `json:"outputVoltage"`

	// Extended battery fields mirroring NUT keys.
	BatteryChargeWarning  *int     `json:"batteryChargeWarning"`
	BatteryChargeLow      *int     `json:"batteryChargeLow"`
	BatteryRuntimeLow     *int     `json:"batteryRuntimeLow"`
	BatteryVoltage        *float64 `json:"batteryVoltage"`
	BatteryVoltageNominal *float64 `json:"batteryVoltageNominal"`
	BatteryType           *string  `json:"batteryType"`
	BatteryDate           *string  `json:"batteryDate"`
	BatteryMfrDate        *string  `json:"batteryMfrDate"`

	// Device identity.
	DeviceMfr    *string `json:"deviceMfr"`
	DeviceModel  *string `json:"deviceModel"`
	DeviceSerial *string `json:"deviceSerial"`
	DeviceType   *string `json:"deviceType"`

	// Driver info.
	DriverName            *string `json:"driverName"`
	DriverVersion         *string `json:"driverVersion"`
	DriverVersionInternal *string `json:"driverVersionInternal"`
	DriverVersionData     *string `json:"driverVersionData"`
	DriverPollFreq        *int    `json:"driverPollFreq"`
	DriverPollInterval    *int    `json:"driverPollInterval"`

	// Input/output electrical fields.
	InputVoltageNominal  *float64 `json:"inputVoltageNominal"`
	InputTransferLow     *float64 `json:"inputTransferLow"`
	InputTransferHigh    *float64 `json:"inputTransferHigh"`
	OutputFrequency      *float64 `json:"outputFrequency"`
	OutputVoltageNominal *float64 `json:"outputVoltageNominal"`

	// UPS identity, timers and misc.
	UPSBeeperStatus     *string `json:"upsBeeperStatus"`
	UPSDelayShutdown    *int    `json:"upsDelayShutdown"`
	UPSDelayStart       *int    `json:"upsDelayStart"`
	UPSTimerShutdown    *int    `json:"upsTimerShutdown"`
	UPSTimerStart       *int    `json:"upsTimerStart"`
	UPSTimerReboot      *int    `json:"upsTimerReboot"`
	UPSFirmware         *string `json:"upsFirmware"`
	UPSMfr              *string `json:"upsMfr"`
	UPSModel            *string `json:"upsModel"`
	UPSSerial           *string `json:"upsSerial"`
	UPSVendorID         *string `json:"upsVendorId"`
	UPSProductID        *string `json:"upsProductId"`
	UPSRealPowerNominal *int    `json:"upsRealPowerNominal"`
	UPSTestResult       *string `json:"upsTestResult"`

	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// HasLowBattery reports whether the raw NUT status carries the LB flag.
func (u *UPS) HasLowBattery() bool {
	if u.UPSStatusRaw == nil {
		return false
	}
	return containsFlag(*u.UPSStatusRaw, "LB")
}
