package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newQdrantServer 模拟 Qdrant REST 接口，内存保存单集合点位
func newQdrantServer(t *testing.T) (*httptest.Server, map[interface{}]Point) {
	t.Helper()

	collections := make(map[string]bool)
	points := make(map[interface{}]Point)

	mux := http.NewServeMux()
	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "result": map[string]interface{}{}})
	})
	mux.HandleFunc("/collections/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/collections/"):]
		switch {
		case r.Method == http.MethodGet:
			if !collections[name] {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]interface{}{"status": map[string]string{"error": "not found"}})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "result": map[string]interface{}{}})
		case r.Method == http.MethodPut && name != "" && !hasSuffixSegment(name):
			collections[name] = true
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "result": true})
		case r.Method == http.MethodPut && hasSuffixSegment(name):
			// index 或 points 写入
			if pathEndsWith(name, "points") {
				var body struct {
					Points []Point `json:"points"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				for _, p := range body.Points {
					points[normalizeID(p.ID)] = p
				}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "result": true})
		case r.Method == http.MethodPost && pathEndsWith(name, "points"):
			var body struct {
				IDs []interface{} `json:"ids"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			var result []Point
			for _, id := range body.IDs {
				if p, ok := points[normalizeID(id)]; ok {
					result = append(result, p)
				}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "result": result})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, points
}

func hasSuffixSegment(path string) bool {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return true
		}
	}
	return false
}

func pathEndsWith(path, segment string) bool {
	if len(path) < len(segment) {
		return false
	}
	return path[len(path)-len(segment):] == segment
}

// JSON 解码后数字 ID 为 float64，统一归一化
func normalizeID(id interface{}) interface{} {
	if f, ok := id.(float64); ok {
		return int(f)
	}
	if i, ok := id.(int); ok {
		return i
	}
	return id
}

func TestEnsureCollection(t *testing.T) {
	server, _ := newQdrantServer(t)
	client := NewQdrantClient(server.URL, "")

	exists, err := client.CollectionExists(context.Background(), "docs")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.EnsureCollection(context.Background(), "docs", 384))

	exists, err = client.CollectionExists(context.Background(), "docs")
	require.NoError(t, err)
	assert.True(t, exists)

	// 已存在时幂等
	require.NoError(t, client.EnsureCollection(context.Background(), "docs", 384))
}

func TestUpsertAndGetPoints(t *testing.T) {
	server, stored := newQdrantServer(t)
	client := NewQdrantClient(server.URL, "test-key")

	require.NoError(t, client.EnsureCollection(context.Background(), "settings", 4))

	point := Point{
		ID:      1,
		Vector:  []float64{0.1, 0.2, 0.3, 0.4},
		Payload: map[string]interface{}{"setting_type": "system"},
	}
	require.NoError(t, client.UpsertPoints(context.Background(), "settings", []Point{point}))
	require.Len(t, stored, 1)

	result, err := client.GetPoints(context.Background(), "settings", []interface{}{1}, true)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "system", result[0].Payload["setting_type"])
}

func TestGetPointsMissing(t *testing.T) {
	server, _ := newQdrantServer(t)
	client := NewQdrantClient(server.URL, "")

	result, err := client.GetPoints(context.Background(), "settings", []interface{}{99}, true)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestHealthCheckFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	client := NewQdrantClient(dead.URL, "")
	assert.Error(t, client.HealthCheck(context.Background()))
}
