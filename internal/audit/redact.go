package audit

import "strings"

// redactedPlaceholder — чем заменяем чувствительные значения
const redactedPlaceholder = "[REDACTED]"

// sensitiveFragments — фрагменты имен полей, значения которых нельзя писать в аудит.
// Сравнение регистронезависимое, по подстроке: "userPassword", "api_key", "cardNumber"
// ловятся одинаково. Бразильские налоговые идентификаторы (cpf/cnpj) — тоже PII.
var sensitiveFragments = []string{
	"password",
	"senha",
	"token",
	"secret",
	"apikey",
	"api_key",
	"authorization",
	"bearer",
	"card",
	"cvv",
	"cpf",
	"cnpj",
	"credential",
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Redact рекурсивно вычищает чувствительные поля из произвольного payload.
// Исходные структуры не мутируются: возвращается копия с заменами.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveField(k) {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = Redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	default:
		return v
	}
}

// RedactMap — типизированный вариант для входных параметров инструментов
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := Redact(m).(map[string]any)
	return out
}
