// Package txlog implements an append-only transaction log: a CRC-framed
// sequence of Transaction records written before a mutation is
// acknowledged, and replayed on restart to reconstruct table state
// without re-running any reducer code.
package txlog

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/interstice-network/interstice-core/internal/ierr"
	"github.com/interstice-network/interstice-core/internal/value"
)

var log = logging.Logger("interstice/txlog")

var (
	magic      = [4]byte{'I', 'N', 'T', 'L'}
	fileVersion byte = 1
	headerLen       = 8 // magic(4) + version(1) + reserved(3)
)

// Kind tags a Transaction's mutation type.
type Kind uint8

const (
	Insert Kind = iota
	Update
	Delete
)

// Transaction is one journalled row mutation.
type Transaction struct {
	Kind      Kind
	Module    string
	Table     string
	Row       Row
	OldRow    *Row // populated only for Update
	Timestamp uint64
}

// Row mirrors internal/table.Row without importing it, to keep txlog a
// leaf package with no dependency on the table store.
type Row struct {
	PrimaryKey value.Value
	Entries    []value.Value
}

// Log is a single-writer append-only transaction file. Writes are
// serialized by mu; fsync happens before Append returns, so a mutation
// is never acknowledged before it is durable.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates the file with the magic header if it does not exist, or
// validates the header of an existing file, and positions for
// appending. It does not read or validate the frame sequence; call
// Recover for that.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ierr.Wrap(ierr.LogIo, "open transaction log", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ierr.Wrap(ierr.LogIo, "stat transaction log", err)
	}
	if info.Size() == 0 {
		if err := writeHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := validateHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, ierr.Wrap(ierr.LogIo, "seek transaction log", err)
	}
	return &Log{file: f}, nil
}

func writeHeader(f *os.File) error {
	var hdr [8]byte
	copy(hdr[:4], magic[:])
	hdr[4] = fileVersion
	if _, err := f.Write(hdr[:]); err != nil {
		return ierr.Wrap(ierr.LogIo, "write transaction log header", err)
	}
	if err := f.Sync(); err != nil {
		return ierr.Wrap(ierr.LogIo, "fsync transaction log header", err)
	}
	return nil
}

func validateHeader(f *os.File) error {
	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return ierr.Wrap(ierr.LogFormatError, "read transaction log header", err)
	}
	if !bytes.Equal(hdr[:4], magic[:]) {
		return ierr.New(ierr.LogFormatError, "bad transaction log magic")
	}
	if hdr[4] != fileVersion {
		return ierr.Newf(ierr.LogFormatError, "unsupported transaction log version %d", hdr[4])
	}
	return nil
}

// Append encodes tx, frames it with a length prefix and CRC32, writes
// it, and fsyncs before returning. Callers must hold any higher-level
// mutation lock themselves; Append only serializes concurrent writers
// to this Log.
func (l *Log) Append(tx Transaction) error {
	payload := Encode(tx)
	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[8:], payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(frame); err != nil {
		return ierr.Wrap(ierr.LogIo, "append transaction", err)
	}
	if err := l.file.Sync(); err != nil {
		return ierr.Wrap(ierr.LogIo, "fsync transaction", err)
	}
	return nil
}

// Close fsyncs and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return ierr.Wrap(ierr.LogIo, "fsync on close", err)
	}
	return l.file.Close()
}

// Recover reads the frame sequence from path, starting after the
// header. It returns every well-formed transaction in order. A frame
// whose length would overflow EOF, or whose CRC fails, is treated as a
// torn tail: the file is truncated to the start of that frame and
// recovery stops there successfully. Any earlier frame with a bad CRC
// is LogCorrupt, a fatal error rather than a truncation.
func Recover(path string) ([]Transaction, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ierr.Wrap(ierr.LogIo, "open transaction log for recovery", err)
	}
	defer f.Close()

	if err := validateHeader(f); err != nil {
		return nil, err
	}

	var txs []Transaction
	offset := int64(headerLen)

	for {
		frameHdr := make([]byte, 8)
		if _, err := io.ReadFull(f, frameHdr); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				return truncateAndReturn(f, offset, txs)
			}
			return nil, ierr.Wrap(ierr.LogIo, "read frame header", err)
		}

		payloadLen := binary.LittleEndian.Uint32(frameHdr[0:4])
		wantCRC := binary.LittleEndian.Uint32(frameHdr[4:8])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return truncateAndReturn(f, offset, txs)
			}
			return nil, ierr.Wrap(ierr.LogIo, "read frame payload", err)
		}

		gotCRC := crc32.ChecksumIEEE(payload)
		if gotCRC != wantCRC {
			// A bad CRC is only a torn tail if nothing readable follows
			// it; a bad-CRC frame with more data after it is genuine
			// mid-log corruption and fatal.
			var probe [1]byte
			if _, peekErr := io.ReadFull(f, probe[:]); peekErr == io.EOF {
				return truncateAndReturn(f, offset, txs)
			}
			return nil, ierr.New(ierr.LogCorrupt, "bad crc on non-terminal frame")
		}

		tx, err := Decode(payload)
		if err != nil {
			return nil, ierr.Wrap(ierr.LogCorrupt, "decode transaction", err)
		}
		txs = append(txs, tx)
		offset += 8 + int64(payloadLen)
	}

	return txs, nil
}

func truncateAndReturn(f *os.File, offset int64, txs []Transaction) ([]Transaction, error) {
	log.Warnf("truncating torn transaction log tail at offset %d", offset)
	if err := f.Truncate(offset); err != nil {
		return nil, ierr.Wrap(ierr.LogIo, "truncate torn tail", err)
	}
	if err := f.Sync(); err != nil {
		return nil, ierr.Wrap(ierr.LogIo, "fsync after truncation", err)
	}
	return txs, nil
}
