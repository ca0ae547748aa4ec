package activerecord

import (
	"context"

	"github.com/satishbabariya/recordkit/record"
)

// Hooks are the per-entity lifecycle override points. BeforeSave may mutate
// data in place; returning false from BeforeSave or BeforeDelete vetoes the
// write.
type Hooks interface {
	BeforeSave(ctx context.Context, data map[string]any, insert bool) bool
	AfterSave(ctx context.Context, insert bool, data map[string]any)
	BeforeDelete(ctx context.Context, id any) bool
	AfterDelete(ctx context.Context, id any)
	AfterLoad(ctx context.Context, rows []*record.Record) []*record.Record
}

// NopHooks allows every write and returns loaded rows unchanged
type NopHooks struct{}

func (NopHooks) BeforeSave(context.Context, map[string]any, bool) bool { return true }
func (NopHooks) AfterSave(context.Context, bool, map[string]any)       {}
func (NopHooks) BeforeDelete(context.Context, any) bool                { return true }
func (NopHooks) AfterDelete(context.Context, any)                      {}

func (NopHooks) AfterLoad(_ context.Context, rows []*record.Record) []*record.Record {
	return rows
}

// HookFuncs adapts individual functions to Hooks; nil fields fall back to
// NopHooks behavior
type HookFuncs struct {
	BeforeSaveFunc   func(ctx context.Context, data map[string]any, insert bool) bool
	AfterSaveFunc    func(ctx context.Context, insert bool, data map[string]any)
	BeforeDeleteFunc func(ctx context.Context, id any) bool
	AfterDeleteFunc  func(ctx context.Context, id any)
	AfterLoadFunc    func(ctx context.Context, rows []*record.Record) []*record.Record
}

func (h HookFuncs) BeforeSave(ctx context.Context, data map[string]any, insert bool) bool {
	if h.BeforeSaveFunc == nil {
		return true
	}
	return h.BeforeSaveFunc(ctx, data, insert)
}

func (h HookFuncs) AfterSave(ctx context.Context, insert bool, data map[string]any) {
	if h.AfterSaveFunc != nil {
		h.AfterSaveFunc(ctx, insert, data)
	}
}

func (h HookFuncs) BeforeDelete(ctx context.Context, id any) bool {
	if h.BeforeDeleteFunc == nil {
		return true
	}
	return h.BeforeDeleteFunc(ctx, id)
}

func (h HookFuncs) AfterDelete(ctx context.Context, id any) {
	if h.AfterDeleteFunc != nil {
		h.AfterDeleteFunc(ctx, id)
	}
}

func (h HookFuncs) AfterLoad(ctx context.Context, rows []*record.Record) []*record.Record {
	if h.AfterLoadFunc == nil {
		return rows
	}
	return h.AfterLoadFunc(ctx, rows)
}

// ActorFunc returns the id of the user performing the current write, if any
type ActorFunc func(ctx context.Context) (int64, bool)
