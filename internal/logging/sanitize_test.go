package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFields_TopLevelKeys(t *testing.T) {
	fields := map[string]interface{}{
		"instance":    "prod-mysql",
		"password":    "hunter2",
		"api_key":     "abc123",
		"AccessKeyID": "AKIA...",
		"port":        3306,
	}

	sanitized := SanitizeFields(fields)

	assert.Equal(t, "prod-mysql", sanitized["instance"])
	assert.Equal(t, MaskedValue, sanitized["password"])
	assert.Equal(t, MaskedValue, sanitized["api_key"])
	assert.Equal(t, MaskedValue, sanitized["AccessKeyID"])
	assert.Equal(t, 3306, sanitized["port"])

	// Original must be untouched.
	assert.Equal(t, "hunter2", fields["password"])
}

func TestSanitizeFields_KeySeparatorForms(t *testing.T) {
	// The same secret name arrives as snake_case from YAML, kebab-case from
	// flags and CamelCase from struct fields; all must mask.
	fields := map[string]interface{}{
		"access_key":  "AKIA1",
		"access-key":  "AKIA2",
		"AccessKeyID": "AKIA3",
		"accountKey":  "azkey",
		"api-key":     "abc",
		"hostname":    "db1",
	}

	sanitized := SanitizeFields(fields)

	for _, key := range []string{"access_key", "access-key", "AccessKeyID", "accountKey", "api-key"} {
		assert.Equal(t, MaskedValue, sanitized[key], "key %q", key)
	}
	assert.Equal(t, "db1", sanitized["hostname"])
}

func TestSanitizeFields_NestedMaps(t *testing.T) {
	fields := map[string]interface{}{
		"config": map[string]interface{}{
			"host":   "db1",
			"secret": "deep",
			"nested": map[string]string{
				"token": "t0k3n",
				"name":  "ok",
			},
		},
	}

	sanitized := SanitizeFields(fields)
	config := sanitized["config"].(map[string]interface{})
	assert.Equal(t, "db1", config["host"])
	assert.Equal(t, MaskedValue, config["secret"])
	nested := config["nested"].(map[string]string)
	assert.Equal(t, MaskedValue, nested["token"])
	assert.Equal(t, "ok", nested["name"])
}

func TestSanitizeFields_StructValues(t *testing.T) {
	type connSettings struct {
		Host     string
		Password string
		Port     int
	}

	sanitized := SanitizeFields(map[string]interface{}{
		"conn": connSettings{Host: "db1", Password: "hunter2", Port: 5432},
	})

	conn := sanitized["conn"].(map[string]interface{})
	assert.Equal(t, "db1", conn["Host"])
	assert.Equal(t, MaskedValue, conn["Password"])
	assert.Equal(t, 5432, conn["Port"])
}

func TestSanitizeFields_SlicesAndNil(t *testing.T) {
	assert.Nil(t, SanitizeFields(nil))

	sanitized := SanitizeFields(map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"passwd": "x", "id": 1},
			"plain",
		},
	})

	items := sanitized["items"].([]interface{})
	first := items[0].(map[string]interface{})
	assert.Equal(t, MaskedValue, first["passwd"])
	assert.Equal(t, 1, first["id"])
	assert.Equal(t, "plain", items[1])
}

func TestMaskCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "equals form",
			args: []string{"mysqldump", "--password=hunter2", "--databases", "orders"},
			want: []string{"mysqldump", "--password=" + MaskedValue, "--databases", "orders"},
		},
		{
			name: "separate value form",
			args: []string{"tool", "--password", "hunter2", "--host", "db1"},
			want: []string{"tool", "--password", MaskedValue, "--host", "db1"},
		},
		{
			name: "mysql combined short flag",
			args: []string{"mysql", "-phunter2", "-u", "root"},
			want: []string{"mysql", "-p" + MaskedValue, "-u", "root"},
		},
		{
			name: "nothing secret",
			args: []string{"pg_dump", "--create", "--no-owner", "orders"},
			want: []string{"pg_dump", "--create", "--no-owner", "orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskCommandArgs(tt.args))
		})
	}
}

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t,
		"backup:"+MaskedValue+"@tcp(db1:3306)/orders",
		MaskConnectionString("backup:hunter2@tcp(db1:3306)/orders"))

	// No credentials means nothing to mask.
	assert.Equal(t, "tcp(db1:3306)/orders", MaskConnectionString("tcp(db1:3306)/orders"))
}
