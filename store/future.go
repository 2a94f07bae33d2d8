package store

import (
	"github.com/leftmike/kvtx/tuple"
)

// Result is a reusable future for store implementations. A Result is
// completed exactly once; every Wait after that returns immediately.
type Result struct {
	done chan struct{}
	err  error
	tbl  Table
	row  *tuple.Tuple
	val  uint64
}

func NewResult() *Result {
	return &Result{
		done: make(chan struct{}),
	}
}

func (r *Result) Complete(err error) {
	r.err = err
	close(r.done)
}

func (r *Result) CompleteTable(tbl Table, err error) {
	r.tbl = tbl
	r.Complete(err)
}

func (r *Result) CompleteRow(row *tuple.Tuple, err error) {
	r.row = row
	r.Complete(err)
}

func (r *Result) CompleteValue(val uint64, err error) {
	r.val = val
	r.Complete(err)
}

func (r *Result) Wait() error {
	<-r.done
	return r.err
}

func (r *Result) Table() (Table, error) {
	err := r.Wait()
	if err != nil {
		return nil, err
	}
	return r.tbl, nil
}

func (r *Result) Row() (*tuple.Tuple, error) {
	err := r.Wait()
	if err != nil {
		return nil, err
	}
	return r.row, nil
}

func (r *Result) Value() (uint64, error) {
	err := r.Wait()
	if err != nil {
		return 0, err
	}
	return r.val, nil
}
