package txn

import (
	"encoding/binary"
	"fmt"

	"github.com/leftmike/kvtx/field"
	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/tuple"
)

// The undo log makes a committing transaction recoverable from outside: the
// full list of rows it will write is durable in the __undolog table before
// the first row is written back. A recovery tool reads the log of a failed
// transaction and reverts exactly those rows.
const (
	undoLogTableName = "__undolog"

	logRecordSize = 16
	logChunkSize  = 1024
)

// LogRecord names one row a transaction writes.
type LogRecord struct {
	Table store.TableID
	Key   uint64
}

// logKey addresses chunk chunk of the log of the transaction at version.
// The low 16 bits index the chunk; a log is limited to 65536 chunks.
func logKey(version uint64, chunk int) uint64 {
	return version<<16 | uint64(chunk)
}

func undoLogSchema() *tuple.Schema {
	sch, err := tuple.NewSchema([]tuple.SchemaField{
		{Name: "data", Type: field.Blob, NotNull: true},
	})
	if err != nil {
		panic(err)
	}
	return sch
}

func openUndoLog(client store.Client) (store.Table, error) {
	tbl, err := client.GetTable(undoLogTableName).Table()
	if err == store.ErrTableNotFound {
		tbl, err = client.CreateTable(undoLogTableName, undoLogSchema()).Table()
		if err == store.ErrTableExists {
			tbl, err = client.GetTable(undoLogTableName).Table()
		}
	}
	return tbl, err
}

func encodeLog(recs []LogRecord) []byte {
	buf := make([]byte, 0, len(recs)*logRecordSize)
	for _, rec := range recs {
		buf = encodeUint64(buf, uint64(rec.Table))
		buf = encodeUint64(buf, rec.Key)
	}
	return buf
}

func decodeLog(buf []byte) ([]LogRecord, error) {
	if len(buf)%logRecordSize != 0 {
		return nil, fmt.Errorf("txn: undo log not a whole number of records: %d bytes",
			len(buf))
	}

	recs := make([]LogRecord, 0, len(buf)/logRecordSize)
	for len(buf) > 0 {
		recs = append(recs, LogRecord{
			Table: store.TableID(binary.BigEndian.Uint64(buf)),
			Key:   binary.BigEndian.Uint64(buf[8:]),
		})
		buf = buf[logRecordSize:]
	}
	return recs, nil
}

func encodeUint64(buf []byte, u uint64) []byte {
	return append(buf, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func chunkRow(sch *tuple.Schema, chunk []byte) *tuple.Tuple {
	row := tuple.NewTuple(sch)
	row.SetField(0, field.NewBlob(chunk))
	return row
}

// writeUndoLog durably persists the serialized log before any row is
// written back. Each chunk is a single-row auto-committed write. A log that
// fits one chunk is written and acknowledged synchronously; a longer log is
// issued chunk by chunk and the acknowledgements are then awaited in
// reverse chunk order. An unacknowledged log write leaves the store
// unrecoverable, so it is fatal.
func writeUndoLog(client store.Client, tbl store.Table, version uint64, buf []byte) {
	sch := tbl.Schema()

	if len(buf) <= logChunkSize {
		err := client.Insert(tbl, nil, logKey(version, 0), chunkRow(sch, buf)).Wait()
		if err != nil {
			panic(fmt.Sprintf("txn: undo log write not acknowledged: %s", err))
		}
		return
	}

	var futures []store.Future
	for chunk := 0; len(buf) > 0; chunk++ {
		sz := len(buf)
		if sz > logChunkSize {
			sz = logChunkSize
		}
		futures = append(futures,
			client.Insert(tbl, nil, logKey(version, chunk), chunkRow(sch, buf[:sz])))
		buf = buf[sz:]
	}

	for i := len(futures) - 1; i >= 0; i-- {
		if err := futures[i].Wait(); err != nil {
			panic(fmt.Sprintf("txn: undo log write not acknowledged: %s", err))
		}
	}
}

// ReadUndoLog reads the undo log of the transaction at version: chunks are
// fetched in order until one is absent or shorter than the chunk size. It
// is the recovery entry point for external compensation; a transaction that
// never reached its log leaves no records.
func ReadUndoLog(client store.Client, version uint64) ([]LogRecord, error) {
	tbl, err := client.GetTable(undoLogTableName).Table()
	if err == store.ErrTableNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var buf []byte
	for chunk := 0; ; chunk++ {
		row, err := client.Get(tbl, nil, logKey(version, chunk)).Row()
		if err == store.ErrKeyNotFound {
			break
		} else if err != nil {
			return nil, err
		}

		data := row.Field(0).Blob()
		buf = append(buf, data...)
		if len(data) < logChunkSize {
			break
		}
	}
	return decodeLog(buf)
}
