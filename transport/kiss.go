package transport

import "errors"

// KISS framing special bytes.
const (
	kissFEND  = 0xC0
	kissFESC  = 0xDB
	kissTFEND = 0xDC
	kissTFESC = 0xDD
	// kissCmdData is the low nibble of the command byte of data frames.
	kissCmdData = 0x00
	// kissMaxPort is the highest port number the command byte can carry.
	kissMaxPort = 15
)

var errKISSPort = errors.New("kiss: port out of range")

// AppendKISS appends msg to dst as a KISS data frame addressed to port.
// Special bytes in msg are escaped.
func AppendKISS(dst []byte, port int, msg []byte) ([]byte, error) {
	if port < 0 || port > kissMaxPort {
		return dst, errKISSPort
	}
	dst = append(dst, kissFEND, byte(port<<4)|kissCmdData)
	for _, b := range msg {
		switch b {
		case kissFEND:
			dst = append(dst, kissFESC, kissTFEND)
		case kissFESC:
			dst = append(dst, kissFESC, kissTFESC)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, kissFEND), nil
}

// KISSDecoder extracts KISS frames from a byte stream split at arbitrary
// boundaries. Frames larger than the decoder's buffer and non-data frames are discarded.
type KISSDecoder struct {
	buf      []byte
	n        int
	inFrame  bool
	escaped  bool
	overflow bool
	// Discarded counts frames dropped due to overflow or bad escapes.
	Discarded int
}

// NewKISSDecoder returns a decoder accepting frames of up to maxFrame bytes,
// not counting the command byte.
func NewKISSDecoder(maxFrame int) *KISSDecoder {
	return &KISSDecoder{buf: make([]byte, maxFrame+1)}
}

// Write feeds stream bytes to the decoder. fn is called for every complete data
// frame with the port and the unescaped payload, which is only valid during the call.
func (d *KISSDecoder) Write(p []byte, fn func(port int, msg []byte)) {
	for _, b := range p {
		if b == kissFEND {
			if d.inFrame && d.n > 0 {
				d.endFrame(fn)
			}
			d.inFrame = true
			d.n = 0
			d.escaped = false
			d.overflow = false
			continue
		}
		if !d.inFrame {
			continue
		}
		if d.escaped {
			d.escaped = false
			switch b {
			case kissTFEND:
				b = kissFEND
			case kissTFESC:
				b = kissFESC
			default:
				d.overflow = true // Protocol violation, discard frame.
			}
		} else if b == kissFESC {
			d.escaped = true
			continue
		}
		if d.n == len(d.buf) {
			d.overflow = true
			continue
		}
		d.buf[d.n] = b
		d.n++
	}
}

func (d *KISSDecoder) endFrame(fn func(port int, msg []byte)) {
	if d.overflow || d.escaped {
		d.Discarded++
		return
	}
	cmd := d.buf[0]
	if cmd&0x0f != kissCmdData || d.n < 2 {
		return
	}
	fn(int(cmd>>4), d.buf[1:d.n])
}
