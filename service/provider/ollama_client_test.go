package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{
				{"name": "llama2"},
				{"name": "nomic-embed-text"},
			},
		})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": "answer for " + req.Model},
		})
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float64{0.1, 0.2, 0.3},
		})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"pulling manifest"}` + "\n"))
		w.Write([]byte(`{"status":"downloading","completed":50,"total":100}` + "\n"))
		w.Write([]byte(`{"status":"success"}` + "\n"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestOllamaListModels(t *testing.T) {
	server := newOllamaServer(t)
	client := NewOllamaClient(server.URL)

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama2", "nomic-embed-text"}, models)

	has, err := client.HasModel(context.Background(), "llama2")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = client.HasModel(context.Background(), "mistral")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestOllamaHealthCheck(t *testing.T) {
	server := newOllamaServer(t)
	client := NewOllamaClient(server.URL)
	assert.NoError(t, client.HealthCheck(context.Background()))

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	assert.Error(t, NewOllamaClient(dead.URL).HealthCheck(context.Background()))
}

func TestOllamaChat(t *testing.T) {
	server := newOllamaServer(t)
	client := NewOllamaClient(server.URL)

	answer, err := client.Chat(context.Background(), "llama2", "you are helpful", "hello")
	require.NoError(t, err)
	assert.Equal(t, "answer for llama2", answer)
}

func TestOllamaEmbed(t *testing.T) {
	server := newOllamaServer(t)
	client := NewOllamaClient(server.URL)

	vector, err := client.Embed(context.Background(), "nomic-embed-text", "some text")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vector)
}

func TestOllamaPullModel(t *testing.T) {
	server := newOllamaServer(t)
	client := NewOllamaClient(server.URL)

	var statuses []string
	err := client.PullModel(context.Background(), "llama2", func(status string, completed, total int64) {
		statuses = append(statuses, status)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pulling manifest", "downloading", "success"}, statuses)
}

func TestOllamaPullModelError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}` + "\n"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	err := NewOllamaClient(server.URL).PullModel(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaProviders(t *testing.T) {
	server := newOllamaServer(t)
	client := NewOllamaClient(server.URL)

	chat := NewOllamaChatProvider(client, "llama2")
	assert.Equal(t, "ollama", chat.Name())
	assert.Equal(t, "llama2", chat.Model())

	answer, err := chat.Chat(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, answer)

	embed := NewOllamaEmbeddingProvider(client, "nomic-embed-text")
	vectors, err := embed.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 3)
}
