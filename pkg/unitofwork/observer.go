package unitofwork

import (
	"time"

	"github.com/surrealdb/surrealodm/pkg/models"
)

// OpKind is the kind of a scheduled write.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Stats counts the writes executed by one flush.
type Stats struct {
	Inserts int
	Updates int
	Deletes int
}

// Observer is told about storage round trips. Calls happen on the goroutine
// using the unit of work.
type Observer interface {
	OperationExecuted(kind OpKind, table string, err error)
	DocumentsLoaded(table string, n int)
	DanglingReference(ref models.RecordID)
	FlushCompleted(stats Stats, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) OperationExecuted(OpKind, string, error)    {}
func (nopObserver) DocumentsLoaded(string, int)                {}
func (nopObserver) DanglingReference(models.RecordID)          {}
func (nopObserver) FlushCompleted(Stats, time.Duration, error) {}
