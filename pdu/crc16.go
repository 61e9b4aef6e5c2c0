package pdu

// crcTable is the lookup table for CRC-16/CCITT-FALSE (poly 0x1021, init 0xffff),
// the PDU CRC mandated by CCSDS 727.0-B-5 section 4.1.3.
var crcTable = makeCRCTable(0x1021)

func makeCRCTable(poly uint16) (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// CRC16 returns the CRC-16/CCITT-FALSE of data.
func CRC16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
