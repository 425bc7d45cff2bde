package sx126x

// Register is a 16-bit address in the chip's register space, accessed
// through the WriteRegister and ReadRegister commands.
type Register uint16

const (
	// RegWhiteningInitMSB seeds the FSK whitening LFSR (MSB first).
	RegWhiteningInitMSB Register = 0x06B8
	// RegCrcInitMSB holds the initial FSK CRC value.
	RegCrcInitMSB Register = 0x06BC
	// RegSyncWord0 is the first byte of the FSK sync word (up to 8 bytes).
	RegSyncWord0 Register = 0x06C0
	// RegIqPolarity tunes the RX IQ path, bit 2 flips the optimization
	// between standard and inverted IQ operation.
	RegIqPolarity Register = 0x0736
	// RegLoRaSyncWordMSB and RegLoRaSyncWordLSB select the LoRa network:
	// 0x3444 for public networks, 0x1424 for private ones.
	RegLoRaSyncWordMSB Register = 0x0740
	RegLoRaSyncWordLSB Register = 0x0741
	// RegRandomNumberGen0 is the first of four bytes of wideband RSSI
	// noise usable as an entropy source while in RX.
	RegRandomNumberGen0 Register = 0x0819
	// RegTxModulation works around the 500 kHz modulation quality
	// erratum, bit 2 must be cleared for BW500 and set otherwise.
	RegTxModulation Register = 0x0889
	// RegRxGain trades RX sensitivity against power: 0x94 power saving,
	// 0x96 boosted gain.
	RegRxGain Register = 0x08AC
	// RegTxClampConfig raises the PA clamping threshold, bits 4:1 must
	// be set on the SX1262 to reach the advertised output power.
	RegTxClampConfig Register = 0x08D8
	// RegOcpConfiguration sets the over current protection limit in
	// steps of 2.5 mA.
	RegOcpConfiguration Register = 0x08E7
	// RegXtaTrim and RegXtbTrim trim the XTAL load capacitors.
	RegXtaTrim Register = 0x0911
	RegXtbTrim Register = 0x0912
)

const (
	// LoRaSyncWordPublic is the sync word of public LoRa networks.
	LoRaSyncWordPublic uint16 = 0x3444
	// LoRaSyncWordPrivate is the sync word of private LoRa networks.
	LoRaSyncWordPrivate uint16 = 0x1424
)

const (
	// RxGainPowerSaving is the reset value of RegRxGain.
	RxGainPowerSaving byte = 0x94
	// RxGainBoosted improves sensitivity by about 2 dB at the cost of
	// roughly 2 mA of RX supply current.
	RxGainBoosted byte = 0x96
)
