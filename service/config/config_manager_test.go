package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"zenith-service/service/models"
)

func setupTestManager(t *testing.T) *ConfigManager {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.ConfigValue{},
		&models.ConfigHistory{},
		&models.ConfigSchemaRecord{},
	)
	require.NoError(t, err)

	return NewConfigManager(db, "test", nil)
}

func TestSetAndGetConfig(t *testing.T) {
	m := setupTestManager(t)

	ok := m.SetConfig("custom.greeting", "hello")
	require.True(t, ok)

	value := m.GetConfig("custom.greeting", nil)
	assert.Equal(t, "hello", value)

	// 未写入的键返回调用方默认值
	value = m.GetConfig("custom.missing", "fallback")
	assert.Equal(t, "fallback", value)
}

func TestGetConfigSchemaDefault(t *testing.T) {
	m := setupTestManager(t)

	// 内置模式的默认值优先于调用方默认值
	value := m.GetConfig("app.port", 9999)
	assert.EqualValues(t, 8501, value)

	value = m.GetConfig("app.name", nil)
	assert.Equal(t, "Zenith AI", value)
}

func TestConfigCache(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.SetConfig("cache.test", "v1"))
	assert.Equal(t, "v1", m.GetConfig("cache.test", nil))

	// 绕过管理器直接改底层存储，缓存读取仍返回旧值
	require.NoError(t, m.store.SetValue("cache.test", "v2", "test", "direct", ""))
	assert.Equal(t, "v1", m.GetConfigEx("cache.test", nil, true, ""))

	// 跳过缓存读取到新值
	assert.Equal(t, "v2", m.GetConfigEx("cache.test", nil, false, ""))

	// 写入使缓存失效
	require.True(t, m.SetConfig("cache.test", "v3"))
	assert.Equal(t, "v3", m.GetConfig("cache.test", nil))
}

func TestSetConfigValidation(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.RegisterSchema(&ConfigSchema{
		Key:       "limits.max_conn",
		ValueType: ValueTypeInteger,
		ValidationRules: []ValidationRule{
			{RuleType: "range", Parameters: map[string]interface{}{"min": 1, "max": 100}},
		},
	}))

	assert.True(t, m.SetConfig("limits.max_conn", 50))
	assert.False(t, m.SetConfig("limits.max_conn", 500))
	assert.False(t, m.SetConfig("limits.max_conn", "many"))

	// 校验失败不产生写入
	assert.EqualValues(t, 50, m.GetConfigEx("limits.max_conn", nil, false, ""))
}

func TestReadonlyConfig(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.RegisterSchema(&ConfigSchema{
		Key:          "system.install_id",
		ValueType:    ValueTypeString,
		DefaultValue: "fixed",
		IsReadonly:   true,
	}))

	assert.False(t, m.SetConfig("system.install_id", "changed"))
	assert.False(t, m.DeleteConfig("system.install_id", "", "test", ""))
	assert.Equal(t, "fixed", m.GetConfig("system.install_id", nil))
}

func TestDeleteConfig(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.SetConfig("temp.key", "value"))
	assert.True(t, m.DeleteConfig("temp.key", "", "test", "cleanup"))
	assert.Nil(t, m.GetConfigEx("temp.key", nil, false, ""))

	// 重复删除返回 false
	assert.False(t, m.DeleteConfig("temp.key", "", "test", ""))
}

func TestRollbackConfig(t *testing.T) {
	t.Run("rollback one step restores previous value", func(t *testing.T) {
		m := setupTestManager(t)

		require.True(t, m.SetConfig("rb.key", "v1"))
		require.True(t, m.SetConfig("rb.key", "v2"))

		assert.True(t, m.RollbackConfig("rb.key", 1, ""))
		assert.Equal(t, "v1", m.GetConfigEx("rb.key", nil, false, ""))
	})

	t.Run("rollback past creation removes the key", func(t *testing.T) {
		m := setupTestManager(t)

		require.True(t, m.SetConfig("rb.created", "only"))
		assert.True(t, m.RollbackConfig("rb.created", 1, ""))
		assert.Nil(t, m.GetConfigEx("rb.created", nil, false, ""))
	})

	t.Run("rollback of delete restores the value", func(t *testing.T) {
		m := setupTestManager(t)

		require.True(t, m.SetConfig("rb.deleted", "kept"))
		require.True(t, m.DeleteConfig("rb.deleted", "", "test", ""))

		assert.True(t, m.RollbackConfig("rb.deleted", 1, ""))
		assert.Equal(t, "kept", m.GetConfigEx("rb.deleted", nil, false, ""))
	})

	t.Run("insufficient history fails", func(t *testing.T) {
		m := setupTestManager(t)

		require.True(t, m.SetConfig("rb.short", "v1"))
		assert.False(t, m.RollbackConfig("rb.short", 5, ""))
		assert.False(t, m.RollbackConfig("rb.none", 1, ""))
	})
}

func TestChangeCallbacks(t *testing.T) {
	m := setupTestManager(t)

	var received []interface{}
	m.RegisterChangeCallback("cb.key", func(key string, newValue interface{}, environment string) {
		received = append(received, newValue)
	})
	// 回调 panic 不影响后续回调
	m.RegisterChangeCallback("cb.key", func(key string, newValue interface{}, environment string) {
		panic("boom")
	})

	var second []interface{}
	m.RegisterChangeCallback("cb.key", func(key string, newValue interface{}, environment string) {
		second = append(second, newValue)
	})

	require.True(t, m.SetConfig("cb.key", "v1"))
	require.True(t, m.DeleteConfig("cb.key", "", "test", ""))

	assert.Equal(t, []interface{}{"v1", nil}, received)
	assert.Equal(t, []interface{}{"v1", nil}, second)
}

func TestGetHistory(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.SetConfig("hist.key", "v1"))
	require.True(t, m.SetConfig("hist.key", "v2"))
	require.True(t, m.DeleteConfig("hist.key", "", "tester", "done"))

	history := m.GetHistory("hist.key", "", 10)
	require.Len(t, history, 3)

	// 最新在前
	assert.Equal(t, "delete", history[0]["change_type"])
	assert.Equal(t, "update", history[1]["change_type"])
	assert.Equal(t, "create", history[2]["change_type"])
	assert.Equal(t, "tester", history[0]["changed_by"])
}

func TestExportImportRoundTrip(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.RegisterSchema(&ConfigSchema{
		Key:       "secrets.token",
		ValueType: ValueTypeSecret,
		IsSecret:  true,
	}))
	require.True(t, m.SetConfig("secrets.token", "super-secret"))
	require.True(t, m.SetConfig("plain.value", "visible"))

	exported, err := m.ExportConfig("", "json")
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(exported), &payload))
	assert.Equal(t, redactedMarker, payload["secrets.token"])
	assert.Equal(t, "visible", payload["plain.value"])

	// 含脱敏标记的密钥禁止回导
	ok, messages := m.ImportConfig(exported, "json", "", "test", false)
	assert.False(t, ok)
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "secrets.token")
}

func TestImportConfig(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.RegisterSchema(&ConfigSchema{
		Key:       "import.port",
		ValueType: ValueTypeInteger,
		ValidationRules: []ValidationRule{
			{RuleType: "range", Parameters: map[string]interface{}{"min": 1, "max": 100}},
		},
	}))

	t.Run("invalid entry rejects whole batch", func(t *testing.T) {
		data := `{"import.port": 9999, "import.other": "x"}`
		ok, messages := m.ImportConfig(data, "json", "", "test", false)
		assert.False(t, ok)
		assert.NotEmpty(t, messages)
		assert.Nil(t, m.GetConfigEx("import.other", nil, false, ""))
	})

	t.Run("dry run reports without writing", func(t *testing.T) {
		data := `{"import.port": 50}`
		ok, messages := m.ImportConfig(data, "json", "", "test", true)
		assert.True(t, ok)
		assert.NotEmpty(t, messages)
		assert.Nil(t, m.GetConfigEx("import.port", nil, false, ""))
	})

	t.Run("valid batch applies", func(t *testing.T) {
		data := `{"import.port": 50, "import.other": "x"}`
		ok, _ := m.ImportConfig(data, "json", "", "test", false)
		assert.True(t, ok)
		assert.EqualValues(t, 50, m.GetConfigEx("import.port", nil, false, ""))
		assert.Equal(t, "x", m.GetConfigEx("import.other", nil, false, ""))
	})

	t.Run("yaml format", func(t *testing.T) {
		ok, _ := m.ImportConfig("yaml.key: hello\n", "yaml", "", "test", false)
		assert.True(t, ok)
		assert.Equal(t, "hello", m.GetConfigEx("yaml.key", nil, false, ""))
	})
}

func TestSecretResolution(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ConfigValue{}, &models.ConfigHistory{}, &models.ConfigSchemaRecord{},
	))

	m := NewConfigManager(db, "test", stubResolver{"db_password": "s3cret"})

	require.True(t, m.SetConfig("db.password", "${secret:db_password}"))
	assert.Equal(t, "s3cret", m.GetConfigEx("db.password", nil, false, ""))

	// 未知密钥解析为 nil
	require.True(t, m.SetConfig("db.other", "${secret:unknown}"))
	assert.Nil(t, m.GetConfigEx("db.other", nil, false, ""))
}

type stubResolver map[string]string

func (r stubResolver) ResolveSecret(name string) (string, error) {
	if value, ok := r[name]; ok {
		return value, nil
	}
	return "", assert.AnError
}

func TestEnvironmentIsolation(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.SetConfigEx("env.key", "test-value", "test", "t", "", true))
	require.True(t, m.SetConfigEx("env.key", "prod-value", "production", "t", "", true))

	assert.Equal(t, "test-value", m.GetConfigEx("env.key", nil, false, "test"))
	assert.Equal(t, "prod-value", m.GetConfigEx("env.key", nil, false, "production"))
}

func TestListConfigsWithCategory(t *testing.T) {
	m := setupTestManager(t)

	require.True(t, m.RegisterSchema(&ConfigSchema{
		Key:       "net.timeout",
		ValueType: ValueTypeInteger,
		Category:  "network",
	}))
	require.True(t, m.SetConfig("net.timeout", 30))
	require.True(t, m.SetConfig("misc.value", "x"))

	all := m.ListConfigs("", "")
	assert.Contains(t, all, "net.timeout")
	assert.Contains(t, all, "misc.value")

	network := m.ListConfigs("", "network")
	assert.Equal(t, []string{"net.timeout"}, network)
}

func TestHealthCheck(t *testing.T) {
	m := setupTestManager(t)

	status := m.HealthCheck()
	assert.Equal(t, true, status["database_accessible"])
	assert.Equal(t, "test", status["environment"])
}

func TestSchemaPersistence(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ConfigValue{}, &models.ConfigHistory{}, &models.ConfigSchemaRecord{},
	))

	m1 := NewConfigManager(db, "test", nil)
	require.True(t, m1.RegisterSchema(&ConfigSchema{
		Key:          "persisted.key",
		ValueType:    ValueTypeString,
		DefaultValue: "from-schema",
	}))

	// 新实例从存储恢复模式
	m2 := NewConfigManager(db, "test", nil)
	schema := m2.GetSchema("persisted.key")
	require.NotNil(t, schema)
	assert.Equal(t, "from-schema", schema.DefaultValue)
}
