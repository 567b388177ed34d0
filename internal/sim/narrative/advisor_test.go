package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
)

type fixedGen struct {
	text string
	err  error
}

func (g fixedGen) Complete(context.Context, string) (string, error) { return g.text, g.err }

// blockingGen never answers until released.
type blockingGen struct{ release chan struct{} }

func (g blockingGen) Complete(context.Context, string) (string, error) {
	<-g.release
	return "too late", nil
}

func ctxWith(recent ...catalogs.Category) Context {
	c := Context{
		Counts:   map[catalogs.Category]int{catalogs.Residential: 3},
		Fallback: policy.Decision{Category: catalogs.Water, Reason: "Ratio: water", Source: policy.SourceRatio},
	}
	for _, r := range recent {
		c.Recent = append(c.Recent, RecentBuild{Category: r, Name: r.String() + " 1"})
	}
	c.TotalBuilds = len(recent)
	return c
}

func TestGenerateThought_FallbackCoversEveryCategory(t *testing.T) {
	a := New(nil, 10*time.Millisecond, nil)
	cats := append(catalogs.All[:], catalogs.Category(200))
	for _, c := range cats {
		t.Run(c.String(), func(t *testing.T) {
			th := a.GenerateThought(context.Background(), ctxWith(c))
			assert.NotEmpty(t, th.Text)
			assert.NotEmpty(t, th.Mood)
			assert.Equal(t, SourceFallback, th.Source)
		})
	}
}

func TestGenerateThought_EmptyContext(t *testing.T) {
	a := New(fixedGen{err: errors.New("boom")}, 10*time.Millisecond, nil)
	th := a.GenerateThought(context.Background(), Context{})
	assert.Equal(t, FallbackThought(catalogs.Category(255), 0), th.Text)
	assert.Equal(t, catalogs.MoodTired, th.Mood)
}

func TestGenerateThought_TimeoutFallsBack(t *testing.T) {
	g := blockingGen{release: make(chan struct{})}
	defer close(g.release)
	a := New(g, 20*time.Millisecond, nil)

	start := time.Now()
	th := a.GenerateThought(context.Background(), ctxWith(catalogs.Power))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, SourceFallback, th.Source)
	assert.Contains(t, catalogs.Phrases(catalogs.Power), th.Text)
	assert.Equal(t, catalogs.MoodFocused, th.Mood)
}

func TestGenerateThought_UsesGenerator(t *testing.T) {
	a := New(fixedGen{text: "  \"The grid hums.\"\n"}, time.Second, nil)
	th := a.GenerateThought(context.Background(), ctxWith(catalogs.Park, catalogs.Park, catalogs.Residential))
	assert.Equal(t, SourceLLM, th.Source)
	assert.Equal(t, "The grid hums.", th.Text)
	assert.Equal(t, catalogs.Park, th.Dominant)
	assert.Equal(t, catalogs.MoodPhilosophical, th.Mood)
}

func TestGenerateThought_EmptyCompletionFallsBack(t *testing.T) {
	for _, text := range []string{"   ", `""`, ` " " `, `''`} {
		a := New(fixedGen{text: text}, time.Second, nil)
		th := a.GenerateThought(context.Background(), ctxWith(catalogs.Food))
		assert.Equal(t, SourceFallback, th.Source, "completion %q", text)
		assert.NotEmpty(t, th.Text, "completion %q", text)
	}
}

func TestGenerateThought_StripsQuotes(t *testing.T) {
	a := New(fixedGen{text: ` "The grid hums tonight." `}, time.Second, nil)
	th := a.GenerateThought(context.Background(), ctxWith(catalogs.Power))
	assert.Equal(t, SourceLLM, th.Source)
	assert.Equal(t, "The grid hums tonight.", th.Text)
}

func TestGetNextBuildAdvisory(t *testing.T) {
	cases := []struct {
		name     string
		gen      Generator
		want     catalogs.Category
		source   string
		decision string
	}{
		{"no generator", nil, catalogs.Water, SourceFallback, policy.SourceRatio},
		{"error", fixedGen{err: errors.New("503")}, catalogs.Water, SourceFallback, policy.SourceRatio},
		{"json", fixedGen{text: `Sure! {"decision": "park", "reason": "people need green"}`}, catalogs.Park, SourceLLM, policy.SourceAdvisory},
		{"unknown category", fixedGen{text: `{"decision": "spaceport", "reason": "x"}`}, catalogs.Water, SourceFallback, policy.SourceRatio},
		{"road", fixedGen{text: `{"decision": "road"}`}, catalogs.Water, SourceFallback, policy.SourceRatio},
		{"garbage", fixedGen{text: "build more houses"}, catalogs.Water, SourceFallback, policy.SourceRatio},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adv := New(tc.gen, 50*time.Millisecond, nil).GetNextBuildAdvisory(context.Background(), ctxWith())
			assert.Equal(t, tc.want, adv.Decision.Category)
			assert.Equal(t, tc.source, adv.Source)
			assert.Equal(t, tc.decision, adv.Decision.Source)
		})
	}
}

func TestDominant_TieGoesToMostRecent(t *testing.T) {
	c := ctxWith(catalogs.Residential, catalogs.Commercial, catalogs.Road, catalogs.Road)
	assert.Equal(t, catalogs.Commercial, c.Dominant())
	assert.Equal(t, []string{"residential: residential 1", "commercial: commercial 1", "road: road 1", "road: road 1"}, c.Summary())
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "m" || len(req.Messages) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hello colony"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI("k", srv.URL+"/v1/", "m", srv.Client())
	got, err := o.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello colony", got)

	bad := NewOpenAI("wrong", srv.URL+"/v1", "m", srv.Client())
	_, err = bad.Complete(context.Background(), "hi")
	require.Error(t, err)
	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatusCode)
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAIFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	assert.Nil(t, OpenAIFromEnv())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CITY_LLM_MODEL", "local")
	o := OpenAIFromEnv()
	require.NotNil(t, o)
	assert.Equal(t, "local", o.Model)

	t.Setenv("CITY_LLM_MODEL", "")
	assert.Equal(t, openai.GPT4oMini, OpenAIFromEnv().Model)
}
