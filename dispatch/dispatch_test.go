package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/option"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/model/openai"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newDispatcher(m *model.MockModel, s *sleepRecorder, optFns ...func(o *Options)) *Dispatcher {
	fns := append([]func(o *Options){func(o *Options) { o.Sleep = s.sleep }}, optFns...)
	d := New(nil, nil, fns...)
	d.Register("mock", m)
	return d
}

func ask(t *testing.T, d *Dispatcher) (*Result, error) {
	t.Helper()
	return d.Ask(context.Background(), Call{Model: "mock", Messages: []core.Message{core.NewUserText("hi")}})
}

func TestAskReturnsResponseUnmodified(t *testing.T) {
	want := &model.Response{Content: model.Ptr("answer"), Usage: model.TokenUsage{Input: 3, Output: 4}}
	m := model.NewMockModel("mock", model.ProviderOpenAI).Then(want, nil)
	var s sleepRecorder

	res, err := ask(t, newDispatcher(m, &s))
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, *want, res.Response)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, s.delays)
}

func TestAskRetriesTwoFailuresThenSucceeds(t *testing.T) {
	transport := model.NewTransportError(model.ProviderOpenAI, http.StatusInternalServerError, errors.New("upstream"))
	m := model.NewMockModel("mock", model.ProviderOpenAI).
		Then(nil, transport).
		Then(nil, errors.New("boom")).
		Then(&model.Response{Content: model.Ptr("ok")}, nil)
	var s sleepRecorder

	res, err := ask(t, newDispatcher(m, &s))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text())
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, []time.Duration{10 * time.Second, 5 * time.Second}, s.delays)
}

func TestAskRateLimitDoesNotConsumeBudget(t *testing.T) {
	rl := model.NewTransportError(model.ProviderAnthropic, http.StatusTooManyRequests, errors.New("slow down"))
	m := model.NewMockModel("mock", model.ProviderAnthropic).
		Then(nil, rl).Then(nil, rl).Then(nil, rl).
		Then(&model.Response{Content: model.Ptr("finally")}, nil)
	var s sleepRecorder

	res, err := ask(t, newDispatcher(m, &s))
	require.NoError(t, err)
	assert.Equal(t, "finally", res.Text())
	assert.Equal(t, 4, m.Calls())
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, s.delays)
}

func TestAskTerminalMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transport", model.NewTransportError(model.ProviderOpenAI, http.StatusBadRequest, errors.New("bad input")), "### Error: bad input\n"},
		{"timeout", model.NewTransportError(model.ProviderOpenAI, 0, context.DeadlineExceeded), TimeoutErrorText},
		{"generic", errors.New("nil pointer"), GenericErrorText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.NewMockModel("mock", model.ProviderOpenAI).Then(nil, tt.err)
			var s sleepRecorder

			res, err := ask(t, newDispatcher(m, &s))
			require.NoError(t, err)
			assert.True(t, res.Failed())
			assert.Equal(t, tt.want, res.Error)
			assert.Nil(t, res.Content)
			assert.Equal(t, 3, m.Calls())
			assert.Len(t, s.delays, 2)
		})
	}
}

type slowModel struct{ calls int }

func (s *slowModel) Generate(ctx context.Context, _ model.Request) (*model.Response, error) {
	s.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *slowModel) Info() model.Info { return model.Info{Name: "slow"} }

func TestAskRequestTimeoutIsRetryable(t *testing.T) {
	var s sleepRecorder
	slow := &slowModel{}
	d := New(nil, nil, func(o *Options) {
		o.Sleep = s.sleep
		o.RequestTimeout = time.Millisecond
	})
	d.Register("slow", slow)

	res, err := d.Ask(context.Background(), Call{Model: "slow"})
	require.NoError(t, err)
	assert.Equal(t, TimeoutErrorText, res.Error)
	assert.Equal(t, 3, slow.calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, s.delays)
}

func TestAskBackgroundPollingOutlivesRequestTimeout(t *testing.T) {
	var submits atomic.Int32
	started := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/responses", func(w http.ResponseWriter, r *http.Request) {
		submits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"resp_1","object":"response","status":"queued","output":[]}`)
	})
	mux.HandleFunc("/responses/resp_1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if time.Since(started) < 400*time.Millisecond {
			_, _ = io.WriteString(w, `{"id":"resp_1","object":"response","status":"in_progress","output":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"resp_1","object":"response","status":"completed","output":[
		  {"type":"message","id":"msg_1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"finished","annotations":[]}]}
		],"usage":{"input_tokens":3,"output_tokens":1,"total_tokens":4,"input_tokens_details":{"cached_tokens":0},"output_tokens_details":{"reasoning_tokens":0}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var s sleepRecorder
	d := New(nil, nil, func(o *Options) {
		o.Sleep = s.sleep
		o.RequestTimeout = 100 * time.Millisecond
	})
	d.Register("background", openai.NewResponsesModel(func(o *openai.ResponsesOptions) {
		o.Model = "o3-pro"
		o.Background = true
		o.PollInterval = 10 * time.Millisecond
		o.ClientOptions = []option.RequestOption{option.WithBaseURL(srv.URL), option.WithAPIKey("test")}
	}))

	res, err := d.Ask(context.Background(), Call{Model: "background", Messages: []core.Message{core.NewUserText("hi")}})
	require.NoError(t, err)
	assert.False(t, res.Failed(), res.Error)
	assert.Equal(t, "finished", res.Text())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), submits.Load())
	assert.Empty(t, s.delays)
}

func TestAskConfigErrorsPropagate(t *testing.T) {
	d := New([]model.Config{{Name: "x", Provider: "nope"}}, nil)

	_, err := d.Ask(context.Background(), Call{Model: "missing"})
	assert.True(t, model.IsConfigError(err))

	_, err = d.Ask(context.Background(), Call{Model: "x"})
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "unknown provider")

	m := model.NewMockModel("mock", model.ProviderOpenAI).Then(nil, &model.ConfigError{Model: "mock", Message: "no key"})
	var s sleepRecorder
	_, err = ask(t, newDispatcher(m, &s))
	assert.True(t, model.IsConfigError(err))
	assert.Equal(t, 1, m.Calls())
}

func TestAskContextCancellation(t *testing.T) {
	m := model.NewMockModel("mock", model.ProviderOpenAI).Then(nil, errors.New("boom"))
	ctx, cancel := context.WithCancel(context.Background())
	d := New(nil, nil, func(o *Options) {
		o.Sleep = func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}
	})
	d.Register("mock", m)

	_, err := d.Ask(ctx, Call{Model: "mock"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveBuildsOnceAndCaches(t *testing.T) {
	builds := 0
	factories := map[string]Factory{
		model.ProviderGemini: func(_ context.Context, cfg model.Config) (model.Model, error) {
			builds++
			return model.NewMockModel(cfg.ModelID, cfg.Provider), nil
		},
		model.ProviderBedrock: func(context.Context, model.Config) (model.Model, error) {
			return nil, errors.New("no credentials")
		},
	}
	d := New([]model.Config{
		{Name: "gemini-pro", Provider: model.ProviderGemini, ModelID: "gemini-2.5-pro"},
		{Name: "nova", Provider: model.ProviderBedrock},
	}, factories)

	m1, err := d.Resolve(context.Background(), "gemini-pro")
	require.NoError(t, err)
	m2, err := d.Resolve(context.Background(), "gemini-pro")
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 1, builds)
	assert.Equal(t, "gemini-2.5-pro", m1.Info().Name)

	_, err = d.Resolve(context.Background(), "nova")
	assert.True(t, model.IsConfigError(err))

	names := []string{}
	for _, c := range d.Models() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"gemini-pro", "nova"}, names)
}

func TestAskLogsModelCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})

	m := model.NewMockModel("mock", model.ProviderOpenAI).Then(&model.Response{Usage: model.TokenUsage{Input: 7}}, nil)
	var s sleepRecorder
	_, err := ask(t, newDispatcher(m, &s, func(o *Options) { o.Logger = logger }))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"msg":"Model call completed"`)
	assert.Contains(t, buf.String(), `"input_tokens":7`)
}
