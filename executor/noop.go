package executor

import (
	"context"

	shardtrace "github.com/zerofox-oss/go-shardtrace"
)

type noopHook struct{}

func (noopHook) Start(ctx context.Context, _, _ string, _ []any, _ shardtrace.DataSourceMetadata) context.Context {
	return ctx
}

func (noopHook) FinishSuccess() {}

func (noopHook) FinishFailure(error) {}

func noopHooks() shardtrace.SQLExecutionHook {
	return noopHook{}
}
