package engine

// Counters are the monotonic per-channel counters.
type Counters struct {
	Recv  RecvCounters
	Sent  SentCounters
	Fault FaultCounters
}

type RecvCounters struct {
	PDU           uint64
	FileDataBytes uint64
	// Error counts undecodable PDUs and invalid NAK segment requests.
	Error uint64
	// Spurious counts PDUs not expected in the state of their transaction.
	Spurious uint64
	// Dropped counts PDUs discarded without processing.
	Dropped            uint64
	NakSegmentRequests uint64
}

type SentCounters struct {
	PDU                uint64
	FileDataBytes      uint64
	Retransmitted      uint64
	NakSegmentRequests uint64
}

type FaultCounters struct {
	FileOpen            uint64
	FileRead            uint64
	FileWrite           uint64
	FileRename          uint64
	ChecksumMismatch    uint64
	FileSizeMismatch    uint64
	NakLimit            uint64
	AckLimit            uint64
	Inactivity          uint64
	NoResource          uint64
	SendFailure         uint64
	UnsupportedChecksum uint64
}
