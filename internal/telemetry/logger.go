package telemetry

import (
	"context"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"go.uber.org/zap"
)

// ZapOperationLogger writes wallet operations to zap and feeds the operation counters.
type ZapOperationLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewZapOperationLogger builds a ledger.OperationLogger. Either argument may be nil.
func NewZapOperationLogger(logger *zap.Logger, metrics *Metrics) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger, metrics: metrics}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("tenant_id", entry.TenantID.String()),
		zap.String("wallet_id", entry.WalletID.String()),
		zap.String("customer", entry.CustomerRef.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.Int64("balance_after", entry.BalanceAfter),
	}
	if entry.Subtype != "" {
		fields = append(fields, zap.String("subtype", entry.Subtype.String()))
	}
	if entry.ReferenceID != "" {
		fields = append(fields,
			zap.String("reference_type", entry.ReferenceType.String()),
			zap.String("reference_id", entry.ReferenceID),
		)
	}
	var moved int64
	if entry.Error != nil {
		operationLogger.logger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
	} else {
		moved = entry.Amount.Int64()
		operationLogger.logger.Info("wallet operation", fields...)
	}
	operationLogger.metrics.RecordOperation(entry.Operation, entry.Status, moved)
}
