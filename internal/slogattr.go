package internal

import "log/slog"

// SlogTxn returns a slog.Attr grouping the source entity id and sequence number
// that identify a CFDP transaction.
func SlogTxn(key string, src, seq uint64) slog.Attr {
	return slog.Group(key, slog.Uint64("src", src), slog.Uint64("seq", seq))
}

// SlogChecksum returns a slog.Attr for a 32 bit checksum value.
func SlogChecksum(key string, sum uint32) slog.Attr {
	return slog.Uint64(key, uint64(sum))
}
