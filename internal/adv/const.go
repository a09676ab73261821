package adv

// MaxLegacyPayloadLength is the largest legacy advertising (or scan response)
// payload a controller reports.
const MaxLegacyPayloadLength = 31

// AD structure types used by the beacon decoders.
const (
	Flags            = 0x01 // Flags
	SomeUUID16       = 0x02 // Incomplete List of 16-bit Service Class UUIDs
	AllUUID16        = 0x03 // Complete List of 16-bit Service Class UUIDs
	ServiceData16    = 0x16 // Service Data - 16-bit UUID
	ManufacturerData = 0xFF // Manufacturer Specific Data
)

// Advertising flags
const (
	FlagGeneralDiscoverable = 0x02 // LE General Discoverable Mode
	FlagLEOnly              = 0x04 // BR/EDR Not Supported
)

// Assigned numbers carried inside beacon advertisements.
const (
	CompanyApple         uint16 = 0x004C
	ServiceUUIDEddystone uint16 = 0xFEAA
)
