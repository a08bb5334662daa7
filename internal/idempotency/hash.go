package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// HashParams считает канонический SHA-256 хэш набора параметров.
// Хэш не зависит от порядка полей: два вызова с одинаковыми логическими
// параметрами, сериализованными в разном порядке, обязаны дать один хэш —
// иначе честный ретрай был бы принят за конфликт ключа.
func HashParams(params map[string]any) string {
	h := sha256.New()
	writeCanonical(h, params)
	return hex.EncodeToString(h.Sum(nil))
}

type writer interface {
	Write(p []byte) (int, error)
}

// writeCanonical рекурсивно сериализует значение в детерминированную форму:
// ключи мап отсортированы, скаляры нормализованы через json.Marshal.
func writeCanonical(w writer, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Write([]byte("{"))
		for _, k := range keys {
			w.Write([]byte(strconv.Quote(k)))
			w.Write([]byte(":"))
			writeCanonical(w, val[k])
			w.Write([]byte(","))
		}
		w.Write([]byte("}"))
	case []any:
		w.Write([]byte("["))
		for _, item := range val {
			writeCanonical(w, item)
			w.Write([]byte(","))
		}
		w.Write([]byte("]"))
	default:
		b, err := json.Marshal(val)
		if err != nil {
			// Несериализуемые значения в параметрах — дефект вызывающего;
			// падать из-за хэша нельзя, фиксируем тип
			b = []byte(fmt.Sprintf("%q", fmt.Sprintf("!%T", val)))
		}
		w.Write(b)
	}
}
