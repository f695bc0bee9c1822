package constants

import "github.com/go-playground/validator/v10"

var Validate = validator.New(validator.WithRequiredStructEnabled())

type ContextKey string

const (
	PoolKey        ContextKey = "pool"
	TxKey          ContextKey = "tx"
	AfterCommitKey ContextKey = "after_commit"
	LoggerKey      ContextKey = "logger"
	ActorIDKey     ContextKey = "actor_id"
	RequestStart   ContextKey = "request_start"
	TxExecutorKey  ContextKey = "tx_executor"
)
