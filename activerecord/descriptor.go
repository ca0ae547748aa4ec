// Package activerecord implements table-scoped persistence driven by entity
// descriptors: CRUD with fillable and hidden column policies, audit fields,
// lifecycle hooks, pagination with cached counts, search and eager loading
// of relations.
package activerecord

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/sqlgen"
)

// TimestampFormat selects how audit timestamps are written
type TimestampFormat int

const (
	// TimestampAuto writes epoch seconds to integer columns and a formatted
	// datetime string to anything else.
	TimestampAuto TimestampFormat = iota
	TimestampDatetime
	TimestampEpoch
)

// DefaultTimestampLayout is the datetime layout used for audit columns
const DefaultTimestampLayout = "2006-01-02 15:04:05"

// AuditPolicy configures automatic created/updated columns
type AuditPolicy struct {
	Enabled   bool
	CreatedAt string
	UpdatedAt string
	CreatedBy string
	UpdatedBy string
	Format    TimestampFormat
	Layout    string
}

// DefaultAudit returns an enabled policy with conventional column names
func DefaultAudit() AuditPolicy {
	return AuditPolicy{
		Enabled:   true,
		CreatedAt: "created_at",
		UpdatedAt: "updated_at",
		CreatedBy: "created_by",
		UpdatedBy: "updated_by",
		Format:    TimestampAuto,
		Layout:    DefaultTimestampLayout,
	}
}

func (a AuditPolicy) withDefaults() AuditPolicy {
	def := DefaultAudit()
	if a.CreatedAt == "" {
		a.CreatedAt = def.CreatedAt
	}
	if a.UpdatedAt == "" {
		a.UpdatedAt = def.UpdatedAt
	}
	if a.CreatedBy == "" {
		a.CreatedBy = def.CreatedBy
	}
	if a.UpdatedBy == "" {
		a.UpdatedBy = def.UpdatedBy
	}
	if a.Layout == "" {
		a.Layout = def.Layout
	}
	return a
}

// KeyStrategy decides who generates primary key values
type KeyStrategy int

const (
	// KeyAutoIncrement lets the database generate the key
	KeyAutoIncrement KeyStrategy = iota
	// KeyUUID generates a random UUID string when the caller supplies none
	KeyUUID
)

// Descriptor is the immutable definition of one entity
type Descriptor struct {
	table        string
	primaryKey   []string
	fillable     []string
	fillableSet  map[string]bool
	hidden       []string
	hiddenSet    map[string]bool
	audit        AuditPolicy
	connection   string
	defaultOrder []builder.Order
	searchable   []string
	relations    []Relation
	relationIdx  map[string]int
	keyStrategy  KeyStrategy
}

// DescriptorOption configures a Descriptor
type DescriptorOption func(*Descriptor)

// WithPrimaryKey sets the key columns; more than one makes a composite key
func WithPrimaryKey(columns ...string) DescriptorOption {
	return func(d *Descriptor) { d.primaryKey = columns }
}

// WithFillable sets the mass-assignment allow-list
func WithFillable(columns ...string) DescriptorOption {
	return func(d *Descriptor) { d.fillable = columns }
}

// WithHidden sets the columns stripped from every returned record
func WithHidden(columns ...string) DescriptorOption {
	return func(d *Descriptor) { d.hidden = columns }
}

// WithAudit sets the audit policy
func WithAudit(policy AuditPolicy) DescriptorOption {
	return func(d *Descriptor) { d.audit = policy }
}

// WithConnection binds the entity to a named connection
func WithConnection(name string) DescriptorOption {
	return func(d *Descriptor) { d.connection = name }
}

// WithDefaultOrder sets the ordering used when callers give none
func WithDefaultOrder(orders ...builder.Order) DescriptorOption {
	return func(d *Descriptor) { d.defaultOrder = orders }
}

// WithSearchable sets the columns matched by Search
func WithSearchable(columns ...string) DescriptorOption {
	return func(d *Descriptor) { d.searchable = columns }
}

// WithRelations declares the entity's relations
func WithRelations(relations ...Relation) DescriptorOption {
	return func(d *Descriptor) { d.relations = append(d.relations, relations...) }
}

// WithUUIDKey generates UUID keys on insert
func WithUUIDKey() DescriptorOption {
	return func(d *Descriptor) { d.keyStrategy = KeyUUID }
}

// NewDescriptor validates and builds a Descriptor for table
func NewDescriptor(table string, opts ...DescriptorOption) (*Descriptor, error) {
	d := &Descriptor{table: table, primaryKey: []string{"id"}}
	for _, opt := range opts {
		opt(d)
	}

	if err := sqlgen.CheckIdentifier(table, "table"); err != nil {
		return nil, err
	}
	if len(d.primaryKey) == 0 {
		return nil, fmt.Errorf("%s: primary key must name at least one column", table)
	}
	if d.keyStrategy == KeyUUID && len(d.primaryKey) > 1 {
		return nil, fmt.Errorf("%s: uuid keys need a single key column", table)
	}

	for _, group := range []struct {
		context string
		columns []string
	}{
		{"primary key", d.primaryKey},
		{"fillable column", d.fillable},
		{"hidden column", d.hidden},
		{"searchable column", d.searchable},
	} {
		for _, c := range group.columns {
			if err := sqlgen.CheckIdentifier(c, group.context); err != nil {
				return nil, err
			}
		}
	}
	for _, o := range d.defaultOrder {
		if err := sqlgen.CheckIdentifier(o.Column, "order column"); err != nil {
			return nil, err
		}
	}

	d.fillableSet = toSet(d.fillable)
	d.hiddenSet = toSet(d.hidden)
	if d.audit.Enabled {
		d.audit = d.audit.withDefaults()
	}

	d.relationIdx = make(map[string]int, len(d.relations))
	for i := range d.relations {
		rel, err := d.relations[i].resolve(table)
		if err != nil {
			return nil, err
		}
		if _, dup := d.relationIdx[rel.Name]; dup {
			return nil, fmt.Errorf("%s: relation %q declared twice", table, rel.Name)
		}
		d.relations[i] = rel
		d.relationIdx[rel.Name] = i
	}
	return d, nil
}

// MustDescriptor is NewDescriptor that panics on error
func MustDescriptor(table string, opts ...DescriptorOption) *Descriptor {
	d, err := NewDescriptor(table, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Table returns the table name
func (d *Descriptor) Table() string { return d.table }

// PrimaryKey returns the key columns in key order
func (d *Descriptor) PrimaryKey() []string { return append([]string(nil), d.primaryKey...) }

// IsComposite reports whether the key spans more than one column
func (d *Descriptor) IsComposite() bool { return len(d.primaryKey) > 1 }

// Fillable returns the mass-assignment allow-list; empty allows every column
func (d *Descriptor) Fillable() []string { return append([]string(nil), d.fillable...) }

// Hidden returns the stripped columns
func (d *Descriptor) Hidden() []string { return append([]string(nil), d.hidden...) }

// IsHidden reports whether column is never returned
func (d *Descriptor) IsHidden(column string) bool { return d.hiddenSet[column] }

// Audit returns the audit policy
func (d *Descriptor) Audit() AuditPolicy { return d.audit }

// Connection returns the connection name; empty means the default
func (d *Descriptor) Connection() string { return d.connection }

// DefaultOrder returns the configured default ordering
func (d *Descriptor) DefaultOrder() []builder.Order {
	return append([]builder.Order(nil), d.defaultOrder...)
}

// Searchable returns the columns matched by Search
func (d *Descriptor) Searchable() []string { return append([]string(nil), d.searchable...) }

// KeyStrategy returns the key generation strategy
func (d *Descriptor) KeyStrategy() KeyStrategy { return d.keyStrategy }

// Relation looks up a declared relation
func (d *Descriptor) Relation(name string) (Relation, bool) {
	i, ok := d.relationIdx[name]
	if !ok {
		return Relation{}, false
	}
	return d.relations[i], true
}

// Relations returns the declared relations in declaration order
func (d *Descriptor) Relations() []Relation { return append([]Relation(nil), d.relations...) }

// ordering resolves explicit > default > primary key descending
func (d *Descriptor) ordering(explicit []builder.Order) []builder.Order {
	if len(explicit) > 0 {
		return explicit
	}
	if len(d.defaultOrder) > 0 {
		return d.defaultOrder
	}
	orders := make([]builder.Order, len(d.primaryKey))
	for i, c := range d.primaryKey {
		orders[i] = builder.Desc(c)
	}
	return orders
}

// Registry maps table names to descriptors
type Registry struct {
	mu      sync.RWMutex
	byTable map[string]*Descriptor
}

// NewRegistry creates a Registry holding descriptors
func NewRegistry(descriptors ...*Descriptor) *Registry {
	r := &Registry{byTable: make(map[string]*Descriptor)}
	for _, d := range descriptors {
		r.Register(d)
	}
	return r
}

// Register adds or replaces the descriptor for its table
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	r.byTable[d.table] = d
	r.mu.Unlock()
}

// Lookup returns the descriptor for table
func (r *Registry) Lookup(table string) (*Descriptor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byTable[table]
	return d, ok
}

// Tables returns the registered table names in sorted order
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]string, 0, len(r.byTable))
	for t := range r.byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// RelationKind is the cardinality of a relation
type RelationKind string

const (
	BelongsToKind     RelationKind = "belongsTo"
	HasManyKind       RelationKind = "hasMany"
	BelongsToManyKind RelationKind = "belongsToMany"
)

// Relation declares how another table's rows attach to this entity's rows.
// LocalKey is read from the parent rows; ForeignKey is matched on the
// related rows. For BelongsToMany the pivot table correlates the two.
type Relation struct {
	Name            string
	Kind            RelationKind
	Table           string
	LocalKey        string
	ForeignKey      string
	PivotTable      string
	PivotLocalKey   string
	PivotForeignKey string
	Columns         []string
}

// RelationOption overrides a relation default
type RelationOption func(*Relation)

// LocalKey sets the parent-side key column
func LocalKey(column string) RelationOption {
	return func(r *Relation) { r.LocalKey = column }
}

// ForeignKey sets the related-side key column
func ForeignKey(column string) RelationOption {
	return func(r *Relation) { r.ForeignKey = column }
}

// Pivot sets the pivot table and its parent-side and related-side columns
func Pivot(table, localKey, foreignKey string) RelationOption {
	return func(r *Relation) {
		r.PivotTable, r.PivotLocalKey, r.PivotForeignKey = table, localKey, foreignKey
	}
}

// Columns sets the default projection of the related rows
func Columns(columns ...string) RelationOption {
	return func(r *Relation) { r.Columns = columns }
}

// BelongsTo declares that each row references one row of table.
// Defaults: local key <singular table>_id, foreign key id.
func BelongsTo(name, table string, opts ...RelationOption) Relation {
	return newRelation(name, BelongsToKind, table, opts)
}

// HasMany declares that each row owns many rows of table.
// Defaults: local key id, foreign key <singular parent table>_id.
func HasMany(name, table string, opts ...RelationOption) Relation {
	return newRelation(name, HasManyKind, table, opts)
}

// BelongsToMany declares a many-to-many relation through a pivot table.
// Defaults: pivot <singular a>_<singular b> in alphabetical order with
// <singular parent>_id and <singular related>_id columns.
func BelongsToMany(name, table string, opts ...RelationOption) Relation {
	return newRelation(name, BelongsToManyKind, table, opts)
}

func newRelation(name string, kind RelationKind, table string, opts []RelationOption) Relation {
	r := Relation{Name: name, Kind: kind, Table: table}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

var errRelation = errors.New("invalid relation")

// resolve fills conventional defaults for a relation owned by parent
func (r Relation) resolve(parent string) (Relation, error) {
	if r.Name == "" || r.Table == "" {
		return r, fmt.Errorf("%w on %s: name and table are required", errRelation, parent)
	}
	parentKey := inflect.Singularize(parent) + "_id"
	relatedKey := inflect.Singularize(r.Table) + "_id"

	switch r.Kind {
	case BelongsToKind:
		r.LocalKey = or(r.LocalKey, relatedKey)
		r.ForeignKey = or(r.ForeignKey, "id")
	case HasManyKind:
		r.LocalKey = or(r.LocalKey, "id")
		r.ForeignKey = or(r.ForeignKey, parentKey)
	case BelongsToManyKind:
		r.LocalKey = or(r.LocalKey, "id")
		r.ForeignKey = or(r.ForeignKey, "id")
		pair := []string{inflect.Singularize(parent), inflect.Singularize(r.Table)}
		sort.Strings(pair)
		r.PivotTable = or(r.PivotTable, pair[0]+"_"+pair[1])
		r.PivotLocalKey = or(r.PivotLocalKey, parentKey)
		r.PivotForeignKey = or(r.PivotForeignKey, relatedKey)
	default:
		return r, fmt.Errorf("%w %q on %s: unknown kind %q", errRelation, r.Name, parent, r.Kind)
	}

	idents := []string{r.Name, r.Table, r.LocalKey, r.ForeignKey}
	if r.Kind == BelongsToManyKind {
		idents = append(idents, r.PivotTable, r.PivotLocalKey, r.PivotForeignKey)
	}
	idents = append(idents, r.Columns...)
	for _, id := range idents {
		if err := sqlgen.CheckIdentifier(id, "relation "+r.Name); err != nil {
			return r, err
		}
	}
	return r, nil
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
