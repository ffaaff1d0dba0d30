package reconcile

import (
	"strings"

	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// Shape tells the flattener how to treat a source field.
type Shape int

const (
	// ShapeLeaf fields are flattened recursively; arrays become joined
	// scalars.
	ShapeLeaf Shape = iota
	// ShapeJSON fields are stored as one JSON string.
	ShapeJSON
	// ShapeSkip fields are dropped.
	ShapeSkip
)

// Field describes how one source field maps onto a state node.
type Field struct {
	// Target is the node path relative to the owning channel. Empty
	// means the source path is kept.
	Target string
	Shape  Shape
	Type   state.Type
	Role   string
	Name   string
	Unit   string

	// States names the enumeration values of a numeric field. Boolean
	// fields use it to accept enumeration names as input.
	States map[int]string
	// Truth maps enumeration values onto booleans.
	Truth map[int]bool
}

func (f Field) meta(target string) state.Meta {
	return state.Meta{
		Type:     f.Type,
		Role:     f.Role,
		Name:     f.Name,
		Unit:     f.Unit,
		Writable: isConfigPath(target),
	}
}

// Table maps source field paths to their definitions.
type Table map[string]Field

var (
	deviceTypes = map[int]string{0: "Smartlock", 1: "Box", 2: "Opener", 3: "Smart Door", 4: "Smartlock 3.0"}
	onOff       = map[int]string{0: "false", 1: "true"}
)

// DeviceFields covers smartlock, opener, box and smart door payloads
// from every source.
var DeviceFields = Table{
	"nukiId":          {Target: "id", Type: state.TypeNumber, Role: "value", Name: "ID of the device"},
	"nukiHexId":       {Target: "hex", Type: state.TypeString, Role: "text", Name: "Hex ID of the device"},
	"name":            {Type: state.TypeString, Role: "text", Name: "Name of the device"},
	"bridge":          {Target: "bridgeId", Type: state.TypeNumber, Role: "value", Name: "Bridge ID of the device"},
	"deviceType":      {Target: "type", Type: state.TypeNumber, Role: "value", Name: "Type of device", States: deviceTypes},
	"type":            {Shape: ShapeSkip},
	"mode":            {Type: state.TypeNumber, Role: "value", Name: "Operation mode", States: nuki.Modes},
	"lastKnownState":  {Shape: ShapeSkip},
	"smartlockId":     {Target: "info.smartlockId", Type: state.TypeNumber, Role: "value", Name: "Smartlock ID"},
	"accountId":       {Target: "info.accountId", Type: state.TypeNumber, Role: "value", Name: "Account ID"},
	"authId":          {Target: "info.authId", Type: state.TypeNumber, Role: "value", Name: "Authorization ID"},
	"favorite":        {Target: "info.favorite", Type: state.TypeBoolean, Role: "indicator", Name: "Favorite flag"},
	"firmwareVersion": {Target: "info.firmwareVersion", Type: state.TypeNumber, Role: "value", Name: "Firmware version"},
	"hardwareVersion": {Target: "info.hardwareVersion", Type: state.TypeNumber, Role: "value", Name: "Hardware version"},
	"operationId":     {Target: "info.operationId", Type: state.TypeString, Role: "text", Name: "Pending operation ID"},
	"serverState":     {Target: "info.serverState", Type: state.TypeNumber, Role: "value", Name: "Server state", States: map[int]string{0: "OK", 1: "UNREGISTERED", 2: "AUTH UUID INVALID", 3: "AUTH INVALID", 4: "OFFLINE"}},
	"adminPinState":   {Target: "info.adminPinState", Type: state.TypeNumber, Role: "value", Name: "Admin PIN state", States: map[int]string{0: "OK", 1: "MISSING", 2: "INVALID"}},
	"virtualDevice":   {Target: "info.virtualDevice", Type: state.TypeBoolean, Role: "indicator", Name: "Virtual device flag"},
	"creationDate":    {Target: "info.dateCreated", Type: state.TypeString, Role: "date", Name: "Creation date"},
	"updateDate":      {Target: "info.dateUpdated", Type: state.TypeString, Role: "date", Name: "Update date"},

	"state.batteryCritical":           {Type: state.TypeBoolean, Role: "indicator.lowbat", Name: "Critical battery level"},
	"state.batteryCharging":           {Type: state.TypeBoolean, Role: "indicator", Name: "Battery charging"},
	"state.batteryChargeState":        {Type: state.TypeNumber, Role: "value.battery", Name: "Battery charge level", Unit: "%"},
	"state.keypadBatteryCritical":     {Type: state.TypeBoolean, Role: "indicator.lowbat", Name: "Critical keypad battery level"},
	"state.doorsensorBatteryCritical": {Type: state.TypeBoolean, Role: "indicator.lowbat", Name: "Critical door sensor battery level"},
	"state.operationId":               {Type: state.TypeString, Role: "text", Name: "Pending operation ID"},
	"state.doorsensorState":           {Target: "state.doorState", Type: state.TypeNumber, Role: "value", Name: "Door state", States: nuki.DoorStates},
	"state.doorState":                 {Type: state.TypeNumber, Role: "value", Name: "Door state", States: nuki.DoorStates},
	"state.doorsensorStateName":       {Shape: ShapeSkip},
	"state.doorStateName":             {Type: state.TypeString, Role: "text", Name: "Door state name"},
	"state.lastAction":                {Type: state.TypeNumber, Role: "value", Name: "Last triggered action"},
	"state.state":                     {Target: "state.lockState", Type: state.TypeNumber, Role: "value", Name: "Lock state"},
	"state.stateName":                 {Shape: ShapeSkip},
	"state.lockStateName":             {Type: state.TypeString, Role: "text", Name: "Lock state name"},
	"state.mode":                      {Type: state.TypeNumber, Role: "value", Name: "Operation mode", States: nuki.Modes},
	"state.ringToOpenTimer":           {Type: state.TypeNumber, Role: "value", Name: "Remaining ring to open time", Unit: "s"},
	"state.trigger":                   {Type: state.TypeNumber, Role: "value", Name: "State trigger", States: nuki.Triggers},
	"state.timestamp":                 {Target: "state.lastDataUpdate", Type: state.TypeString, Role: "date", Name: "Last data update"},
	"state.lastStateUpdate":           {Type: state.TypeNumber, Role: "date", Name: "Last lock state change"},
	"state.nightMode":                 {Type: state.TypeBoolean, Role: "indicator", Name: "Night mode enabled"},
	"state.deviceType":                {Shape: ShapeSkip},
	"state.nukiId":                    {Shape: ShapeSkip},
	"state.locked":                    {Type: state.TypeBoolean, Role: "sensor.lock", Name: "Door is locked", States: nuki.LockStates, Truth: nuki.LockedStates},
	"state.closed":                    {Type: state.TypeBoolean, Role: "sensor.door", Name: "Door is closed", States: nuki.DoorStates, Truth: nuki.ClosedDoorStates},
	"state.ringactionState":           {Target: "state.ringState", Type: state.TypeBoolean, Role: "indicator", Name: "Ring state"},
	"state.ringactionTimestamp":       {Target: "state.ringStateUpdate", Type: state.TypeString, Role: "date", Name: "Last ring state update"},

	"config.latitude":           {Target: "config.gpsLatitude", Type: state.TypeNumber, Role: "gps.latitude", Name: "Latitude"},
	"config.longitude":          {Target: "config.gpsLongitude", Type: state.TypeNumber, Role: "gps.longitude", Name: "Longitude"},
	"config.name":               {Type: state.TypeString, Role: "text", Name: "Name for new users"},
	"config.autoUnlatch":        {Type: state.TypeBoolean, Role: "indicator", Name: "Unlatch on unlock"},
	"config.pairingEnabled":     {Type: state.TypeBoolean, Role: "indicator", Name: "Pairing via button allowed"},
	"config.buttonEnabled":      {Type: state.TypeBoolean, Role: "indicator", Name: "Button enabled"},
	"config.ledEnabled":         {Type: state.TypeBoolean, Role: "indicator", Name: "LED enabled"},
	"config.ledBrightness":      {Type: state.TypeNumber, Role: "value.brightness", Name: "LED brightness"},
	"config.fobPaired":          {Type: state.TypeBoolean, Role: "indicator", Name: "Fob paired"},
	"config.singleLock":         {Type: state.TypeBoolean, Role: "indicator", Name: "Lock once"},
	"config.keypadPaired":       {Type: state.TypeBoolean, Role: "indicator", Name: "Keypad paired"},
	"config.timezoneOffset":     {Type: state.TypeNumber, Role: "value", Name: "Timezone offset", Unit: "min"},
	"config.daylightSavingMode": {Type: state.TypeNumber, Role: "value", Name: "Daylight saving mode", States: map[int]string{0: "OFF", 1: "EUROPEAN"}},
	"config.advertisingMode":    {Type: state.TypeNumber, Role: "value", Name: "Advertising mode", States: map[int]string{0: "AUTOMATIC", 1: "NORMAL", 2: "SLOW", 3: "SLOWEST"}},
	"config.homekitState":       {Type: state.TypeNumber, Role: "value", Name: "HomeKit state", States: map[int]string{0: "UNAVAILABLE", 1: "DISABLED", 2: "ENABLED", 3: "ENABLED & PAIRED"}},

	"advancedConfig.detachedCylinder":              {Type: state.TypeBoolean, Role: "indicator", Name: "Detached cylinder"},
	"advancedConfig.automaticBatteryTypeDetection": {Type: state.TypeBoolean, Role: "indicator", Name: "Automatic battery type detection"},
	"advancedConfig.lngTimeout":                    {Type: state.TypeNumber, Role: "value", Name: "Lock 'n' go timeout", Unit: "s"},
	"advancedConfig.unlatchDuration":               {Type: state.TypeNumber, Role: "value", Name: "Unlatch duration", Unit: "s"},
	"advancedConfig.autoLockTimeout":               {Type: state.TypeNumber, Role: "value", Name: "Auto lock timeout", Unit: "s"},
	"advancedConfig.batteryType":                   {Type: state.TypeNumber, Role: "value", Name: "Battery type", States: map[int]string{0: "ALKALI", 1: "ACCUMULATOR", 2: "LITHIUM"}},

	"openerAdvancedConfig.randomElectricStrikeDelay":     {Type: state.TypeBoolean, Role: "indicator", Name: "Random electric strike delay"},
	"openerAdvancedConfig.disableRtoAfterRing":           {Type: state.TypeBoolean, Role: "indicator", Name: "Disable RTO after ring"},
	"openerAdvancedConfig.automaticBatteryTypeDetection": {Type: state.TypeBoolean, Role: "indicator", Name: "Automatic battery type detection"},
	"openerAdvancedConfig.electricStrikeDelay":           {Type: state.TypeNumber, Role: "value", Name: "Electric strike delay", Unit: "ms"},
	"openerAdvancedConfig.electricStrikeDuration":        {Type: state.TypeNumber, Role: "value", Name: "Electric strike duration", Unit: "ms"},
	"openerAdvancedConfig.rtoTimeout":                    {Type: state.TypeNumber, Role: "value", Name: "RTO timeout", Unit: "min"},

	"webConfig.batteryWarningPerMailEnabled": {Type: state.TypeBoolean, Role: "indicator", Name: "Battery warning by email"},
}

// BridgeFields covers the Bridge API /info payload.
var BridgeFields = Table{
	"name":                         {Type: state.TypeString, Role: "text", Name: "Name of the bridge"},
	"bridgeType":                   {Type: state.TypeNumber, Role: "value", Name: "Type of bridge", States: map[int]string{1: "Hardware Bridge", 2: "Software Bridge"}},
	"ids.serverId":                 {Target: "bridgeId", Type: state.TypeNumber, Role: "value", Name: "ID of the bridge"},
	"ids.hardwareId":               {Target: "hardwareId", Type: state.TypeNumber, Role: "value", Name: "Hardware ID of the bridge"},
	"ip":                           {Target: "bridgeIp", Type: state.TypeString, Role: "info.ip", Name: "IP address of the bridge"},
	"port":                         {Target: "bridgePort", Type: state.TypeNumber, Role: "info.port", Name: "Port of the bridge"},
	"uptime":                       {Type: state.TypeNumber, Role: "value", Name: "Uptime", Unit: "s"},
	"currentTime":                  {Target: "refreshed", Type: state.TypeString, Role: "date", Name: "Last update"},
	"serverConnected":              {Target: "_connected", Type: state.TypeBoolean, Role: "indicator.reachable", Name: "Connected to the vendor server", States: onOff},
	"wlanConnected":                {Type: state.TypeBoolean, Role: "indicator", Name: "Connected to WLAN", States: onOff},
	"versions.firmwareVersion":     {Target: "versFirmware", Type: state.TypeString, Role: "text", Name: "Firmware version"},
	"versions.wifiFirmwareVersion": {Target: "versWifi", Type: state.TypeString, Role: "text", Name: "WiFi module firmware version"},
	"versions.appVersion":          {Target: "versApp", Type: state.TypeString, Role: "text", Name: "Bridge app version"},
	"scanResults":                  {Shape: ShapeJSON, Type: state.TypeJSON, Role: "json", Name: "Devices in range"},
}

// UserFields covers Web API authorization entries.
var UserFields = Table{
	"id":               {Type: state.TypeString, Role: "text", Name: "User ID"},
	"name":             {Type: state.TypeString, Role: "text", Name: "Name of user"},
	"enabled":          {Type: state.TypeBoolean, Role: "indicator", Name: "User enabled"},
	"remoteAllowed":    {Type: state.TypeBoolean, Role: "indicator", Name: "Remote access allowed"},
	"lockCount":        {Type: state.TypeNumber, Role: "value", Name: "Lock count"},
	"smartlockId":      {Type: state.TypeNumber, Role: "value", Name: "Smartlock ID"},
	"authId":           {Type: state.TypeNumber, Role: "value", Name: "Authorization ID"},
	"type":             {Type: state.TypeNumber, Role: "value", Name: "Authorization type", States: map[int]string{0: "APP", 1: "BRIDGE", 2: "FOB", 3: "KEYPAD", 13: "KEYPAD CODE", 14: "Z-KEY", 15: "VIRTUAL"}},
	"creationDate":     {Target: "dateCreated", Type: state.TypeString, Role: "date", Name: "Creation date"},
	"updateDate":       {Target: "dateUpdated", Type: state.TypeString, Role: "date", Name: "Update date"},
	"lastActiveDate":   {Target: "dateLastActive", Type: state.TypeString, Role: "date", Name: "Last active date"},
	"allowedWeekDays":  {Type: state.TypeNumber, Role: "value", Name: "Allowed weekdays"},
	"allowedFromTime":  {Type: state.TypeNumber, Role: "value", Name: "Allowed from time", Unit: "min"},
	"allowedUntilTime": {Type: state.TypeNumber, Role: "value", Name: "Allowed until time", Unit: "min"},
}

// NotificationFields covers Web API notification entries.
var NotificationFields = Table{
	"notificationId": {Type: state.TypeString, Role: "text", Name: "Notification ID"},
	"referenceId":    {Type: state.TypeString, Role: "text", Name: "Reference ID"},
	"pushId":         {Type: state.TypeString, Role: "text", Name: "Push ID or webhook URL"},
	"secret":         {Shape: ShapeSkip},
	"language":       {Type: state.TypeString, Role: "text", Name: "Language of push messages"},
	"lastActiveDate": {Type: state.TypeString, Role: "date", Name: "Last active date"},
	"status":         {Type: state.TypeNumber, Role: "value", Name: "Activation state", States: map[int]string{0: "INIT", 1: "ACTIVE", 2: "FAILED"}},
	"os":             {Type: state.TypeNumber, Role: "value", Name: "Operating system", States: map[int]string{0: "Android", 1: "iOS", 2: "Webhook"}},
	"settings":       {Shape: ShapeJSON, Type: state.TypeJSON, Role: "json", Name: "Settings per device"},
}

// configBlocks are the top-level payload keys holding writable device
// configuration.
var configBlocks = []string{"config", "advancedConfig", "openerAdvancedConfig"}

func isConfigPath(target string) bool {
	for _, b := range configBlocks {
		if strings.HasPrefix(target, b+".") {
			return true
		}
	}
	return false
}

// ConfigBlock splits a node path relative to a device channel into its
// configuration block and the vendor key inside that block. ok is false
// for paths outside the configuration blocks.
func ConfigBlock(relative string) (block, key string, ok bool) {
	if !isConfigPath(relative) {
		return "", "", false
	}
	source := relative
	for src, f := range DeviceFields {
		if f.Target == relative {
			source = src
			break
		}
	}
	block, key, _ = strings.Cut(source, ".")
	return block, key, true
}
