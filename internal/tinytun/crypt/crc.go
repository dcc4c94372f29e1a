package crypt

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

// ChecksumSize - bytes of the little-endian trailer
const ChecksumSize = 2

// CRC-16 reflected, polynomial 0xA001, initial value 0xFFFF, no final xor
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum - CRC-16 of data
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Seal - write the checksum of data[:n] into data[n:n+2]
func Seal(data []byte, n int) {
	binary.LittleEndian.PutUint16(data[n:n+ChecksumSize], Checksum(data[:n]))
}

// Valid - the checksum over payload plus its trailer is zero
func Valid(dataWithTrailer []byte) bool {
	return Checksum(dataWithTrailer) == 0
}
