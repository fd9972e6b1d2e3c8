package logging

import "log/slog"

// Common field names for consistent logging across stages.
const (
	FieldStage     = "stage"
	FieldTopic     = "topic"
	FieldSymbol    = "symbol"
	FieldMessageID = "msg_id"
	FieldPartition = "partition"
	FieldOffset    = "offset"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Stage returns a slog attribute for the pipeline stage name.
func Stage(name string) slog.Attr {
	return slog.String(FieldStage, name)
}

// Topic returns a slog attribute for a Kafka topic.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// Symbol returns a slog attribute for a market symbol.
func Symbol(symbol string) slog.Attr {
	return slog.String(FieldSymbol, symbol)
}

// MessageID returns a slog attribute for a lineage message id.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Partition returns a slog attribute for a Kafka partition.
func Partition(p int32) slog.Attr {
	return slog.Int(FieldPartition, int(p))
}

// Offset returns a slog attribute for a Kafka offset.
func Offset(o int64) slog.Attr {
	return slog.Int64(FieldOffset, o)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms float64) slog.Attr {
	return slog.Float64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
