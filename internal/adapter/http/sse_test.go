package http

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendStatus_SkipsUnchangedFragments(t *testing.T) {
	view := pipelineView(domain.PipelineStatusInProgress)

	first := httptest.NewRecorder()
	shown, err := sendStatus(first, view, "")
	assert.NoError(t, err)
	assert.NotEmpty(t, shown)
	assert.Equal(t, 1, strings.Count(first.Body.String(), "event: status"))

	second := httptest.NewRecorder()
	shown2, err := sendStatus(second, view, shown)
	assert.NoError(t, err)
	assert.Equal(t, shown, shown2)
	assert.Equal(t, "", second.Body.String())
}

func TestSendStatus_EmitsUpdatedFragments(t *testing.T) {
	first := httptest.NewRecorder()
	shown, err := sendStatus(first, pipelineView(domain.PipelineStatusInProgress), "")
	require.NoError(t, err)

	second := httptest.NewRecorder()
	_, err = sendStatus(second, pipelineView(domain.PipelineStatusSucceeded), shown)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(second.Body.String(), "event: status"))
	assert.Contains(t, second.Body.String(), "exports/p-1/hero.mp4")
}

func TestRenderStatusHTML_EscapesReason(t *testing.T) {
	view := pipelineView(domain.PipelineStatusFailed)
	view.Reason = `<script>alert("x")</script>`

	html, err := renderStatusHTML(view)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, `id="pipeline-p-1"`)
	assert.Contains(t, html, `data-stage="1"`)
	assert.Contains(t, html, "Failed")
}

func TestRenderStatusHTML_ShowsProgress(t *testing.T) {
	view := pipelineView(domain.PipelineStatusInProgress)
	view.Progress = 45
	view.Jobs = []service.JobView{
		{Stage: 0, Kind: domain.JobKindDetectPose, Status: domain.JobStatusSucceeded, Progress: 100},
		{Stage: 1, Kind: domain.JobKindRender, Status: domain.JobStatusRunning, Progress: 62},
	}

	html, err := renderStatusHTML(view)
	require.NoError(t, err)
	assert.Contains(t, html, `<progress class="progress" value="45" max="100">45%</progress>`)
	assert.Contains(t, html, `data-progress="62"`)
	assert.Equal(t, 1, strings.Count(html, "data-progress"), "only running jobs show progress")

	shown, err := sendStatus(httptest.NewRecorder(), view, "")
	require.NoError(t, err)
	view.Jobs[1].Progress = 80
	rec := httptest.NewRecorder()
	_, err = sendStatus(rec, view, shown)
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), `data-progress="80"`, "progress changes push a new fragment")
}

func TestSSEWrite_MultiLine(t *testing.T) {
	rec := httptest.NewRecorder()
	sseWrite(rec, "status", "a\nb")
	assert.Equal(t, "event: status\ndata: a\ndata: b\n\n", rec.Body.String())
}

// readEvent returns the data lines of the next SSE event.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var data []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && len(data) > 0:
			return strings.Join(data, "\n")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestEvents_StreamsUntilTerminal(t *testing.T) {
	pipelines := newFakePipelines(
		pipelineView(domain.PipelineStatusInProgress),
		pipelineView(domain.PipelineStatusSucceeded),
	)
	bus := service.NewEventBus()
	server := httptest.NewServer(NewRouter(ServerConfig{Pipelines: pipelines, EventBus: bus}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/pipelines/p-1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	assert.Contains(t, readEvent(t, reader), "Processing")

	<-pipelines.statusCalled
	bus.Publish("p-1", service.Event{Type: "pipeline", PipelineID: "p-1", Status: "succeeded"})

	assert.Contains(t, readEvent(t, reader), "Done")
}

func TestEvents_UnknownPipeline(t *testing.T) {
	pipelines := newFakePipelines()
	pipelines.statusErr = domain.ErrNotFound
	router := NewRouter(ServerConfig{Pipelines: pipelines, EventBus: service.NewEventBus()})

	req := httptest.NewRequest(http.MethodGet, "/v1/pipelines/nope/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
