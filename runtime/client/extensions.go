package client

import (
	"context"

	"github.com/satishbabariya/recordkit/activerecord"
	"github.com/satishbabariya/recordkit/record"
)

// HookChain runs several lifecycle hooks in order. A Before hook returning
// false stops the chain and vetoes the write; After hooks run in reverse so
// the first extension sees the final state.
type HookChain []activerecord.Hooks

// ChainHooks combines hooks, skipping nil entries
func ChainHooks(hooks ...activerecord.Hooks) HookChain {
	chain := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

func (c HookChain) BeforeSave(ctx context.Context, data map[string]any, insert bool) bool {
	for _, h := range c {
		if !h.BeforeSave(ctx, data, insert) {
			return false
		}
	}
	return true
}

func (c HookChain) AfterSave(ctx context.Context, insert bool, data map[string]any) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].AfterSave(ctx, insert, data)
	}
}

func (c HookChain) BeforeDelete(ctx context.Context, id any) bool {
	for _, h := range c {
		if !h.BeforeDelete(ctx, id) {
			return false
		}
	}
	return true
}

func (c HookChain) AfterDelete(ctx context.Context, id any) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].AfterDelete(ctx, id)
	}
}

// AfterLoad pipes the rows through every hook in order
func (c HookChain) AfterLoad(ctx context.Context, rows []*record.Record) []*record.Record {
	for _, h := range c {
		rows = h.AfterLoad(ctx, rows)
	}
	return rows
}
