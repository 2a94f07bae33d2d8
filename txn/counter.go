package txn

import (
	"github.com/leftmike/kvtx/field"
	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/tuple"
)

const counterTablePrefix = "__global_counter_"

func counterSchema() *tuple.Schema {
	sch, err := tuple.NewSchema([]tuple.SchemaField{
		{Name: "value", Type: field.BigInt, NotNull: true},
	})
	if err != nil {
		panic(err)
	}
	return sch
}

// Counter is a named distributed counter. Next is a single remote atomic
// increment-and-get: it is not snapshot-scoped, values handed out are never
// reused even if the observing transaction aborts. The handle outlives the
// transaction that opened it.
type Counter struct {
	client store.Client
	tbl    store.Table
}

func (tx *Transaction) CreateCounter(name string) (*Counter, error) {
	st, err := tx.store()
	if err != nil {
		return nil, err
	}

	tbl, err := st.client.CreateTable(counterTablePrefix+name, counterSchema()).Table()
	if err != nil {
		return nil, err
	}
	return &Counter{client: st.client, tbl: tbl}, nil
}

func (tx *Transaction) GetCounter(name string) (*Counter, error) {
	st, err := tx.store()
	if err != nil {
		return nil, err
	}

	tbl, err := st.client.GetTable(counterTablePrefix + name).Table()
	if err != nil {
		return nil, err
	}
	return &Counter{client: st.client, tbl: tbl}, nil
}

// Next returns the next value of the counter, starting at 1.
func (c *Counter) Next() (uint64, error) {
	return c.client.Increment(c.tbl, 0, 1).Value()
}
