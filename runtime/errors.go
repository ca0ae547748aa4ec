// Package runtime holds the error taxonomy shared by every recordkit package.
package runtime

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrConnection is matched by every ConnectionError.
	ErrConnection = errors.New("database connection failed")

	// ErrInvalidIdentifier is matched by every InvalidIdentifierError.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrPersistence is matched by every PersistenceError.
	ErrPersistence = errors.New("persistence failed")

	// ErrInvalidCondition is returned for malformed condition values.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrUnsupportedOperator is returned for operators outside the allowed set.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnknownRelation is returned when eager loading names an undeclared relation.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrIncompleteKey is returned when a composite key is missing a component.
	ErrIncompleteKey = errors.New("incomplete primary key")

	// ErrUniqueConstraint is returned when a unique constraint is violated.
	ErrUniqueConstraint = errors.New("unique constraint violation")

	// ErrForeignKeyConstraint is returned when a foreign key constraint is violated.
	ErrForeignKeyConstraint = errors.New("foreign key constraint violation")

	// ErrNullConstraint is returned when a not-null constraint is violated.
	ErrNullConstraint = errors.New("null constraint violation")
)

// ConnectionError reports an unconfigured or unreachable connection.
type ConnectionError struct {
	Name  string
	Cause error
}

func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("connection %q: %v", e.Name, ErrConnection)
	}
	return fmt.Sprintf("connection %q: %v", e.Name, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// NewConnectionError creates a ConnectionError.
func NewConnectionError(name string, cause error) *ConnectionError {
	return &ConnectionError{Name: name, Cause: cause}
}

// InvalidIdentifierError reports a table or column name that failed validation.
type InvalidIdentifierError struct {
	Identifier string
	Context    string
}

func (e *InvalidIdentifierError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("invalid identifier %q in %s", e.Identifier, e.Context)
	}
	return fmt.Sprintf("invalid identifier %q", e.Identifier)
}

func (e *InvalidIdentifierError) Is(target error) bool { return target == ErrInvalidIdentifier }

// NewInvalidIdentifier creates an InvalidIdentifierError.
func NewInvalidIdentifier(identifier, context string) *InvalidIdentifierError {
	return &InvalidIdentifierError{Identifier: identifier, Context: context}
}

// PersistenceError wraps a driver failure during a write.
type PersistenceError struct {
	Op    string
	Table string
	// Kind is one of the constraint sentinels, or nil when unclassified.
	Kind  error
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

func (e *PersistenceError) Is(target error) bool {
	if target == ErrPersistence {
		return true
	}
	return e.Kind != nil && e.Kind == target
}

// NewPersistenceError wraps cause and classifies it.
func NewPersistenceError(op, table string, cause error) *PersistenceError {
	return &PersistenceError{Op: op, Table: table, Kind: ClassifyError(cause), Cause: cause}
}

// ClassifyError maps a driver error onto a constraint sentinel. It returns
// nil when the error is not a recognised constraint violation.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062, 1586:
			return ErrUniqueConstraint
		case 1216, 1217, 1451, 1452:
			return ErrForeignKeyConstraint
		case 1048, 1364:
			return ErrNullConstraint
		}
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrUniqueConstraint
		case "23503":
			return ErrForeignKeyConstraint
		case "23502":
			return ErrNullConstraint
		}
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrUniqueConstraint
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKeyConstraint
		case sqlite3.ErrConstraintNotNull:
			return ErrNullConstraint
		}
	}
	return nil
}

// IsUniqueConstraint checks if an error is a unique constraint violation.
func IsUniqueConstraint(err error) bool {
	return errors.Is(err, ErrUniqueConstraint)
}

// IsForeignKeyConstraint checks if an error is a foreign key constraint violation.
func IsForeignKeyConstraint(err error) bool {
	return errors.Is(err, ErrForeignKeyConstraint)
}

// IsConnectionError checks if an error is a ConnectionError.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}
