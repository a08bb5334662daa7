package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact_TopLevelSensitiveFields(t *testing.T) {
	in := map[string]any{
		"name":     "Ana Souza",
		"password": "hunter2",
		"senha":    "segredo",
		"cpf":      "123.456.789-00",
		"cnpj":     "12.345.678/0001-00",
		"token":    "eyJhbGciOi...",
	}

	out := Redact(in).(map[string]any)

	assert.Equal(t, "Ana Souza", out["name"])
	for _, field := range []string{"password", "senha", "cpf", "cnpj", "token"} {
		assert.Equal(t, "[REDACTED]", out[field], field)
	}
}

func TestRedact_SubstringAndCaseInsensitive(t *testing.T) {
	in := map[string]any{
		"userPassword":  "x",
		"API_KEY":       "x",
		"cardNumber":    "4111111111111111",
		"client_cpf":    "123",
		"Authorization": "Bearer abc",
		"description":   "keep me", // "card" не подстрока
	}

	out := Redact(in).(map[string]any)

	assert.Equal(t, "[REDACTED]", out["userPassword"])
	assert.Equal(t, "[REDACTED]", out["API_KEY"])
	assert.Equal(t, "[REDACTED]", out["cardNumber"])
	assert.Equal(t, "[REDACTED]", out["client_cpf"])
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "keep me", out["description"])
}

func TestRedact_Recursive(t *testing.T) {
	in := map[string]any{
		"client": map[string]any{
			"name": "Ana",
			"docs": map[string]any{"cpf": "123"},
		},
		"items": []any{
			map[string]any{"secret": "s1", "label": "ok"},
			"plain string",
		},
	}

	out := Redact(in).(map[string]any)

	client := out["client"].(map[string]any)
	assert.Equal(t, "Ana", client["name"])
	assert.Equal(t, "[REDACTED]", client["docs"].(map[string]any)["cpf"])

	items := out["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, "[REDACTED]", first["secret"])
	assert.Equal(t, "ok", first["label"])
	assert.Equal(t, "plain string", items[1])
}

func TestRedact_DoesNotMutateOriginal(t *testing.T) {
	in := map[string]any{"password": "hunter2"}
	_ = Redact(in)
	assert.Equal(t, "hunter2", in["password"])
}

func TestRedact_Scalars(t *testing.T) {
	assert.Equal(t, 42, Redact(42))
	assert.Equal(t, "plain", Redact("plain"))
	assert.Nil(t, Redact(nil))
}

func TestRedactMap_Nil(t *testing.T) {
	assert.Nil(t, RedactMap(nil))
}
