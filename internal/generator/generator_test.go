package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agora-labs/internal/config"
	"github.com/ashureev/agora-labs/internal/domain"
)

var peter = domain.Profile{
	ID:            "peter",
	Name:          "Peter the Apostle",
	Tone:          "Zealous",
	SamplePrompts: []string{"Follow me"},
}

func TestStub_TagsResponseWithProfile(t *testing.T) {
	history := []domain.Entry{{ID: "1", Role: domain.RoleUser, Content: "Hello disciples"}}
	before := append([]domain.Entry(nil), history...)

	resp, err := Stub{}.Generate(context.Background(), peter, history)
	require.NoError(t, err)
	assert.Equal(t, "peter", resp.AgentID)
	assert.Equal(t, "Simulated response from Peter the Apostle", resp.Text)
	assert.Equal(t, before, history)
}

func TestWithTimeout_CancelsSlowCalls(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, p domain.Profile, _ []domain.Entry) (domain.Response, error) {
		select {
		case <-ctx.Done():
			return domain.Response{}, ctx.Err()
		case <-time.After(time.Second):
			return domain.Response{AgentID: p.ID}, nil
		}
	})

	_, err := WithTimeout(slow, 10*time.Millisecond).Generate(context.Background(), peter, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWithTimeout_DisabledReturnsSame(t *testing.T) {
	g := Stub{}
	assert.Equal(t, Generator(g), WithTimeout(g, 0))
}

func TestNew_SelectsBackend(t *testing.T) {
	g, err := New(config.GeneratorConfig{Backend: "stub"})
	require.NoError(t, err)
	assert.IsType(t, Stub{}, g)

	_, err = New(config.GeneratorConfig{Backend: "openai"})
	assert.Error(t, err, "openai backend requires a key")

	g, err = New(config.GeneratorConfig{Backend: "OpenAI", OpenAIKey: "sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	_, err = New(config.GeneratorConfig{Backend: "llama"})
	assert.Error(t, err)
}

func TestBuildMessages_AttributesSpeakers(t *testing.T) {
	history := []domain.Entry{
		{Role: domain.RoleUser, Content: "Hello"},
		{Role: domain.RoleAgent, AgentID: "jesus", Content: "Peace be with you"},
		{Role: domain.RoleAgent, AgentID: "peter", Content: "Lord!"},
	}

	msgs := buildMessages(peter, history)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Peter the Apostle")
	assert.Contains(t, msgs[0].Content, "Zealous")
	assert.Contains(t, msgs[0].Content, "Follow me")
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "user", msgs[2].Role)
	assert.Equal(t, "jesus: Peace be with you", msgs[2].Content)
	assert.Equal(t, "assistant", msgs[3].Role)
}

func TestOpenAI_Generate(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  I will follow.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(config.GeneratorConfig{
		OpenAIKey:     "sk-test",
		OpenAIBaseURL: srv.URL + "/v1",
		Model:         "gpt-4o-mini",
		MaxTokens:     64,
	})
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), peter, []domain.Entry{{Role: domain.RoleUser, Content: "Hi"}})
	require.NoError(t, err)
	assert.Equal(t, domain.Response{AgentID: "peter", Text: "I will follow."}, resp)
	assert.Equal(t, "gpt-4o-mini", gotModel)
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(config.GeneratorConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), peter, nil)
	assert.Error(t, err)
}

func TestOpenAI_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(config.GeneratorConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), peter, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peter")
}
