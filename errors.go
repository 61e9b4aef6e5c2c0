package cfdp

type errGeneric uint8

// Generic errors common to engine and codec operation.
const (
	_              errGeneric = iota // non-initialized err
	ErrPacketDrop                    // PDU dropped
	ErrBadCRC                        // incorrect PDU CRC
	ErrNoResource                    // pool exhausted
	ErrNotFound                      // transaction not found
	ErrChannelFrozen                 // channel frozen
	ErrInvalidChannel                // invalid channel
)

func (err errGeneric) Error() string {
	return err.String()
}

func (err errGeneric) String() string {
	switch err {
	case ErrPacketDrop:
		return "cfdp: PDU dropped"
	case ErrBadCRC:
		return "cfdp: incorrect PDU CRC"
	case ErrNoResource:
		return "cfdp: pool exhausted"
	case ErrNotFound:
		return "cfdp: transaction not found"
	case ErrChannelFrozen:
		return "cfdp: channel frozen"
	case ErrInvalidChannel:
		return "cfdp: invalid channel"
	}
	return "cfdp: unknown error"
}
