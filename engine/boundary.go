package engine

import (
	"io"
	"io/fs"
	"os"
)

// File is an open file handle used by transactions. Reads and writes are positional
// so a single handle serves out of order file data and retransmissions.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Stat() (fs.FileInfo, error)
}

// Filestore is the file system boundary of the engine. Calls are synchronous
// and are expected to be size bounded by the engine.
type Filestore interface {
	// Open opens an existing file for reading.
	Open(name string) (File, error)
	// Create creates or truncates a file for writing.
	Create(name string) (File, error)
	Rename(oldname, newname string) error
	Remove(name string) error
	ReadDir(name string) ([]fs.DirEntry, error)
}

// OSFilestore implements [Filestore] over the host file system.
type OSFilestore struct{}

var _ Filestore = OSFilestore{}

func (OSFilestore) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (OSFilestore) Create(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (OSFilestore) Rename(oldname, newname string) error { return os.Rename(oldname, newname) }

func (OSFilestore) Remove(name string) error { return os.Remove(name) }

func (OSFilestore) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }

// Transport is the message boundary of the engine. Channel numbers index
// [Config.Channels]. Messages begin with an encapsulation header of
// [ChannelConfig.EncapsulationSize] bytes owned by the transport.
type Transport interface {
	// Recv returns the next inbound message of the channel or nil if there is none.
	// The returned buffer is valid until the next call to Recv.
	Recv(ch int) []byte
	// Buffer returns an outbound message buffer or nil if none is available this cycle.
	// The buffer is valid until Send is called. A buffer that is not sent is reused.
	Buffer(ch int) []byte
	// Send transmits msg, which must be a prefix of the last buffer returned by Buffer.
	Send(ch int, msg []byte) error
}
