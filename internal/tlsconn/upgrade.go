package tlsconn

import (
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgproto3"

	"pgdial/internal/stream"
)

// maxEmptyReads bounds consecutive reads that fill nothing and report
// no error.
const maxEmptyReads = 100

// RequestUpgrade sends the PostgreSQL SSLRequest and reads the
// server's one-byte answer.  It reports true when the server is ready
// for a TLS handshake ('S') and false when it only speaks plaintext
// ('N').
func RequestUpgrade(conn stream.BufConn) (bool, error) {
	req, err := (&pgproto3.SSLRequest{}).Encode(nil)
	if err != nil {
		return false, err
	}
	if _, err := conn.Write(req); err != nil {
		return false, err
	}
	if err := conn.Flush(); err != nil {
		return false, err
	}

	rb := stream.NewReadBuf(make([]byte, 1))
	for empty := 0; rb.Remaining() > 0; {
		before := rb.Remaining()
		err := conn.ReadBuf(rb)
		if err != nil && rb.Remaining() > 0 {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return false, err
		}
		if rb.Remaining() < before {
			empty = 0
			continue
		}
		if empty++; empty >= maxEmptyReads {
			return false, io.ErrNoProgress
		}
	}

	switch b := rb.Filled()[0]; b {
	case 'S':
		return true, nil
	case 'N':
		return false, nil
	default:
		return false, fmt.Errorf("unexpected SSLRequest response %q", b)
	}
}
