package nut

import (
	"math"
	"strconv"
	"strings"

	"github.com/Volteec/VolteecBackend/internal/models"
)

// MapVariables turns the raw LIST VAR result into a typed snapshot.
// Pure function: missing keys become nil fields, never errors.
func MapVariables(upsName string, vars map[string]string) models.UPS {
	u := models.UPS{
		UPSID:      strings.ToLower(upsName),
		DataSource: models.SourceNUT,
		Status:     deriveStatus(vars["ups.status"]),
	}
	if raw, ok := vars["ups.status"]; ok {
		u.UPSStatusRaw = &raw
	}

	u.BatteryPercent = intRound(vars, "battery.charge")
	u.BatteryChargeWarning = intRound(vars, "battery.charge.warning")
	u.BatteryChargeLow = intRound(vars, "battery.charge.low")
	u.LoadPercent = intRound(vars, "ups.load")

	u.BatteryRuntimeSeconds = intTrunc(vars, "battery.runtime")
	u.BatteryRuntimeLow = intTrunc(vars, "battery.runtime.low")
	u.UPSDelayShutdown = intTrunc(vars, "ups.delay.shutdown")
	u.UPSDelayStart = intTrunc(vars, "ups.delay.start")
	u.UPSTimerShutdown = intTrunc(vars, "ups.timer.shutdown")
	u.UPSTimerStart = intTrunc(vars, "ups.timer.start")
	u.UPSTimerReboot = intTrunc(vars, "ups.timer.reboot")
	u.DriverPollFreq = intTrunc(vars, "driver.parameter.pollfreq")
	u.DriverPollInterval = intTrunc(vars, "driver.parameter.pollinterval")
	u.UPSRealPowerNominal = intTrunc(vars, "ups.realpower.nominal")

	if u.BatteryRuntimeSeconds != nil {
		minutes := *u.BatteryRuntimeSeconds / 60
		u.RuntimeMinutes = &minutes
	}

	u.InputVoltage = floatVal(vars, "input.voltage")
	u.OutputVoltage = floatVal(vars, "output.voltage")
	u.BatteryVoltage = floatVal(vars, "battery.voltage")
	u.BatteryVoltageNominal = floatVal(vars, "battery.voltage.nominal")
	u.InputVoltageNominal = floatVal(vars, "input.voltage.nominal")
	u.InputTransferLow = floatVal(vars, "input.transfer.low")
	u.InputTransferHigh = floatVal(vars, "input.transfer.high")
	u.OutputFrequency = floatVal(vars, "output.frequency")
	u.OutputVoltageNominal = floatVal(vars, "output.voltage.nominal")

	u.BatteryType = strVal(vars, "battery.type")
	u.BatteryDate = strVal(vars, "battery.date")
	u.BatteryMfrDate = strVal(vars, "battery.mfr.date")
	u.DeviceMfr = strVal(vars, "device.mfr")
	u.DeviceModel = strVal(vars, "device.model")
	u.DeviceSerial = strVal(vars, "device.serial")
	u.DeviceType = strVal(vars, "device.type")
	u.DriverName = strVal(vars, "driver.name")
	u.DriverVersion = strVal(vars, "driver.version")
	u.DriverVersionInternal = strVal(vars, "driver.version.internal")
	u.DriverVersionData = strVal(vars, "driver.version.data")
	u.UPSBeeperStatus = strVal(vars, "ups.beeper.status")
	u.UPSFirmware = strVal(vars, "ups.firmware")
	u.UPSMfr = strVal(vars, "ups.mfr")
	u.UPSModel = strVal(vars, "ups.model")
	u.UPSSerial = strVal(vars, "ups.serial")
	u.UPSVendorID = strVal(vars, "ups.vendorid")
	u.UPSProductID = strVal(vars, "ups.productid")
	u.UPSTestResult = strVal(vars, "ups.test.result")

	return u
}

// deriveStatus maps the raw NUT flag string to the canonical status.
// OL wins over OB/LB; an empty or missing value means the UPS is
// unreachable from the driver's point of view.
func deriveStatus(raw string) models.UPSStatus {
	flags := strings.Fields(strings.ToUpper(raw))
	for _, f := range flags {
		if f == "OL" {
			return models.StatusOnline
		}
	}
	for _, f := range flags {
		if f == "OB" || f == "LB" {
			return models.StatusOnBattery
		}
	}
	return models.StatusOffline
}

func intRound(vars map[string]string, key string) *int {
	f, ok := parseFloat(vars, key)
	if !ok {
		return nil
	}
	i := int(math.Round(f))
	return &i
}

func intTrunc(vars map[string]string, key string) *int {
	f, ok := parseFloat(vars, key)
	if !ok {
		return nil
	}
	i := int(math.Trunc(f))
	return &i
}

func floatVal(vars map[string]string, key string) *float64 {
	f, ok := parseFloat(vars, key)
	if !ok {
		return nil
	}
	return &f
}

func strVal(vars map[string]string, key string) *string {
	v, ok := vars[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func parseFloat(vars map[string]string, key string) (float64, bool) {
	v, ok := vars[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
