package txlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/interstice-network/interstice-core/internal/value"
)

func exampleTx(pk int64) Transaction {
	return Transaction{
		Kind:   Insert,
		Module: "chat",
		Table:  "messages",
		Row: Row{
			PrimaryKey: value.NewI64(pk),
			Entries:    []value.Value{value.NewI64(pk), value.NewString("hello")},
		},
		Timestamp: 1234,
	}
}

func TestTransactionCodecRoundTrip(t *testing.T) {
	tx := exampleTx(1)
	old := exampleTx(1)
	tx.Kind = Update
	tx.OldRow = &old.Row

	out, err := Decode(Encode(tx))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != Update || out.Module != "chat" || out.Table != "messages" {
		t.Fatalf("header mismatch: %+v", out)
	}
	if !value.Equal(out.Row.PrimaryKey, tx.Row.PrimaryKey) {
		t.Fatalf("row pk mismatch: %v vs %v", out.Row.PrimaryKey, tx.Row.PrimaryKey)
	}
	if out.OldRow == nil || !value.Equal(out.OldRow.PrimaryKey, old.Row.PrimaryKey) {
		t.Fatalf("old row mismatch: %+v", out.OldRow)
	}
	if out.Timestamp != 1234 {
		t.Fatalf("timestamp mismatch: %d", out.Timestamp)
	}
}

func TestAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transactions.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := l.Append(exampleTx(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	txs, err := Recover(path)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	for i, tx := range txs {
		want := int64(i + 1)
		if !value.Equal(tx.Row.PrimaryKey, value.NewI64(want)) {
			t.Fatalf("transaction %d pk mismatch: %v", i, tx.Row.PrimaryKey)
		}
	}
}

func TestRecoverMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.log")
	txs, err := Recover(path)
	if err != nil {
		t.Fatalf("expected no error for missing log, got %v", err)
	}
	if txs != nil {
		t.Fatalf("expected nil transactions, got %v", txs)
	}
}

func TestRecoverTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transactions.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Append(exampleTx(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a process killed mid-write: append a frame header claiming
	// a payload that never arrives.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte{100, 0, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("write torn header: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close reopened: %v", err)
	}

	sizeBefore, _ := os.Stat(path)

	txs, err := Recover(path)
	if err != nil {
		t.Fatalf("expected torn tail to recover cleanly, got %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 recovered transaction, got %d", len(txs))
	}

	sizeAfter, _ := os.Stat(path)
	if sizeAfter.Size() >= sizeBefore.Size() {
		t.Fatalf("expected file to be truncated, before=%d after=%d", sizeBefore.Size(), sizeAfter.Size())
	}

	// Recovering twice from the now-truncated file must be idempotent.
	txs2, err := Recover(path)
	if err != nil {
		t.Fatalf("second recover: %v", err)
	}
	if len(txs2) != 1 {
		t.Fatalf("expected 1 recovered transaction on second pass, got %d", len(txs2))
	}
}

func TestRecoverCorruptEarlierFrameIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transactions.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Append(exampleTx(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Flip a bit inside the first frame's payload so its CRC no longer
	// matches, then append a second, valid frame after it.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[headerLen+8] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corrupted: %v", err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := l2.Append(exampleTx(2)); err != nil {
		t.Fatalf("append second: %v", err)
	}
	if err := l2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := Recover(path); err == nil {
		t.Fatal("expected LogCorrupt error for bad CRC followed by a later good frame")
	}
}
