package log

import "ledgerbook/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldDuration      = "duration_ms"
	FieldLedgerID      = "ledger_id"
	FieldAccountID     = "account_id"
	FieldTransactionID = "transaction_id"
	FieldTransaction   = "transaction_type"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldCount         = "count"
	FieldEntity        = "entity"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentCLI         = "cli"
	ComponentRecorder    = "recorder"
	ComponentAuditor     = "auditor"
	ComponentQuery       = "query"
	ComponentStatistics  = "statistics"
	ComponentInitializer = "initializer"
	ComponentBackup      = "backup"
	ComponentExport      = "export"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentSheets      = "sheets"
	ComponentCache       = "cache"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpAudit    = "audit"
	OpRepair   = "repair"
	OpExport   = "export"
	OpBackup   = "backup"
	OpRestore  = "restore"
	OpMigrate  = "migrate"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeInternal      = "internal_error"
)

// ErrorType classifies err for the error_type field
func ErrorType(err error) string {
	switch core.KindOf(err) {
	case core.KindValidation:
		return ErrorTypeValidation
	case core.KindNotFound:
		return ErrorTypeNotFound
	case core.KindConflict:
		return ErrorTypeConflict
	case core.KindStorage:
		return ErrorTypeDatabase
	}
	return ErrorTypeInternal
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds the error and its classification
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTransaction adds transaction-related fields
func (f LogFields) WithTransaction(t core.Transaction) LogFields {
	f[FieldLedgerID] = t.LedgerID
	f[FieldTransactionID] = t.ID
	f[FieldTransaction] = string(t.Type)
	f[FieldAmount] = t.Amount
	f[FieldCurrency] = t.Currency
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
