package logging

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// eventFromFields collects zap fields into an Event. msg wins over a field
// named "event".
func eventFromFields(msg string, groups ...[]zap.Field) Event {
	enc := zapcore.NewMapObjectEncoder()
	for _, fields := range groups {
		for _, f := range fields {
			f.AddTo(enc)
		}
	}
	ev := Event(enc.Fields)
	ev[EventKey] = msg
	return ev
}

// renderFields splits a sanitized event into the zap message and fields.
// timestamp and level lead, the rest follow in key order.
func renderFields(ev Event) (string, []zap.Field) {
	msg := ev.Name()

	keys := make([]string, 0, len(ev))
	for k := range ev {
		if k == EventKey || k == TimestampKey || k == LevelKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+2)
	for _, k := range []string{TimestampKey, LevelKey} {
		if v, ok := ev[k]; ok {
			fields = append(fields, primitiveField(k, v))
		}
	}
	for _, k := range keys {
		fields = append(fields, primitiveField(k, ev[k]))
	}
	return msg, fields
}

// primitiveField maps a sanitized value to a typed zap field so both the
// JSON encoder and the OTel bridge see structure rather than reflection.
func primitiveField(key string, v any) zap.Field {
	switch x := v.(type) {
	case string:
		return zap.String(key, x)
	case int64:
		return zap.Int64(key, x)
	case uint64:
		return zap.Uint64(key, x)
	case float64:
		return zap.Float64(key, x)
	case bool:
		return zap.Bool(key, x)
	case map[string]any:
		return zap.Object(key, objectValue(x))
	case []any:
		return zap.Array(key, arrayValue(x))
	case nil:
		return zap.Reflect(key, nil)
	default:
		// Unreachable after SanitizeEvent
		return zap.Any(key, x)
	}
}

type objectValue map[string]any

func (o objectValue) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		primitiveField(k, o[k]).AddTo(enc)
	}
	return nil
}

type arrayValue []any

func (a arrayValue) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, v := range a {
		var err error
		switch x := v.(type) {
		case string:
			enc.AppendString(x)
		case int64:
			enc.AppendInt64(x)
		case uint64:
			enc.AppendUint64(x)
		case float64:
			enc.AppendFloat64(x)
		case bool:
			enc.AppendBool(x)
		case map[string]any:
			err = enc.AppendObject(objectValue(x))
		case []any:
			err = enc.AppendArray(arrayValue(x))
		default:
			err = enc.AppendReflected(x)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
