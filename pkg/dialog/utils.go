package dialog

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/rtc"
)

func defaultID() string {
	return uuid.NewString()
}

func orAny(v string) string {
	if v == "" {
		return rtc.DeviceAny
	}
	return v
}

func stringParam(params rpc.Params, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func stringOr(params rpc.Params, key, def string) string {
	if s := stringParam(params, key); s != "" {
		return s
	}
	return def
}

// boolParam истинность в духе JSON клиента: true, непустая строка, ненулевое число
func boolParam(params rpc.Params, key string) bool {
	if params == nil {
		return false
	}
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

func intParam(params rpc.Params, key string) int {
	if params == nil {
		return 0
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func copyParams(params rpc.Params) rpc.Params {
	out := make(rpc.Params, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	return out
}
